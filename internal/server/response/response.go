// Package response writes the JSON bodies of the HTTP API.
package response

import (
	"encoding/json"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Error codes used in error envelopes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeJobConstruction    = "JOB_CONSTRUCTION_FAILED"
	CodeStateCorruption    = "STATE_CORRUPTION"
	CodeInternal           = "INTERNAL_ERROR"
)

// RequestIDHeader carries the request id used as the envelope correlation id.
const RequestIDHeader = "X-Request-ID"

// ErrorResponse is the error body written for a gofulmen error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one failed request.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type envelope struct {
	Data any `json:"data"`
}

// JSON writes data with status 200.
func JSON(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, envelope{Data: data})
}

// Accepted writes data with status 202.
func Accepted(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusAccepted, envelope{Data: data})
}

// NewEnvelope builds an error envelope correlated with the response's
// request id. Scalar details become envelope context; details holding
// nested values are kept as envelope details.
func NewEnvelope(w http.ResponseWriter, code, message string, details map[string]any) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(code, message)
	if id := w.Header().Get(RequestIDHeader); id != "" {
		env = env.WithCorrelationID(id)
	}
	if len(details) == 0 {
		return env
	}
	if _, err := env.WithContext(details); err != nil {
		env.Context = nil
		env = env.WithDetails(details)
	}
	return env
}

// Error writes an error envelope.
func Error(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	WriteError(w, NewEnvelope(w, code, message, details), status)
}

// WriteError writes env as the error body.
func WriteError(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	details := env.Context
	if len(details) == 0 {
		details = env.Details
	}
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Severity:  string(env.Severity),
		Timestamp: env.Timestamp,
		Details:   details,
	}})
}

// WriteJSON writes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
