package manifest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/snapbridge/internal/assets/schemas"
)

// Validation errors
var (
	// ErrSchemaNotFound indicates the schema could not be located.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed indicates the manifest failed schema validation.
	ErrValidationFailed = errors.New("manifest validation failed")
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/source/port").
	Path string

	// Message describes the validation failure.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// schemaValidator compiles an embedded schema once on first use.
type schemaValidator struct {
	name   string
	schema []byte

	once sync.Once
	v    *schema.Validator
	err  error
}

var (
	snapshotValidator = &schemaValidator{name: "snapshot-request", schema: schemasassets.SnapshotRequestSchema}
	restoreValidator  = &schemaValidator{name: "restore-request", schema: schemasassets.RestoreRequestSchema}
)

func (s *schemaValidator) compiled() (*schema.Validator, error) {
	s.once.Do(func() {
		if len(s.schema) == 0 {
			s.err = fmt.Errorf("%w: embedded %s schema is empty", ErrSchemaNotFound, s.name)
			return
		}
		s.v, s.err = schema.NewValidator(s.schema)
		if s.err != nil {
			s.err = fmt.Errorf("failed to compile %s schema: %w", s.name, s.err)
		}
	})
	return s.v, s.err
}

// validate checks raw JSON data against the schema.
func (s *schemaValidator) validate(jsonData []byte) error {
	v, err := s.compiled()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		// Only include errors, not warnings
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateSnapshotRaw checks raw JSON data against the snapshot-request schema.
func ValidateSnapshotRaw(jsonData []byte) error {
	return snapshotValidator.validate(jsonData)
}

// ValidateRestoreRaw checks raw JSON data against the restore-request schema.
func ValidateRestoreRaw(jsonData []byte) error {
	return restoreValidator.validate(jsonData)
}
