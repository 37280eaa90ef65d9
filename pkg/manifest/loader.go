package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadSnapshot reads and validates a snapshot request from the given file path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json for JSON.
// If the extension is unrecognized, YAML is attempted first, then JSON.
func LoadSnapshot(path string) (*SnapshotRequest, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return LoadSnapshotFromBytes(data, path)
}

// LoadSnapshotFromBytes parses and validates a snapshot request from raw bytes.
//
// The path parameter is used for error messages and format detection.
func LoadSnapshotFromBytes(data []byte, path string) (*SnapshotRequest, error) {
	return load[SnapshotRequest](data, path, snapshotValidator)
}

// LoadRestore reads and validates a restore request from the given file path.
func LoadRestore(path string) (*RestoreRequest, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return LoadRestoreFromBytes(data, path)
}

// LoadRestoreFromBytes parses and validates a restore request from raw bytes.
func LoadRestoreFromBytes(data []byte, path string) (*RestoreRequest, error) {
	return load[RestoreRequest](data, path, restoreValidator)
}

// LoadSnapshotFromReader reads and validates a snapshot request from r.
func LoadSnapshotFromReader(r io.Reader, path string) (*SnapshotRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadSnapshotFromBytes(data, path)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return data, nil
}

// load validates the raw document (converted to JSON) before parsing into the
// typed struct, so unknown fields are rejected rather than silently dropped.
func load[T any](data []byte, path string, v *schemaValidator) (*T, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := v.validate(jsonData); err != nil {
		return nil, err
	}
	return parse[T](data, path)
}

// parse decodes the manifest data based on file extension.
func parse[T any](data []byte, path string) (*T, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		return parseJSON[T](data)
	case ".yaml", ".yml":
		return parseYAML[T](data)
	default:
		// Unknown extension: try YAML first (more permissive), then JSON
		m, yamlErr := parseYAML[T](data)
		if yamlErr == nil {
			return m, nil
		}
		m, jsonErr := parseJSON[T](data)
		if jsonErr == nil {
			return m, nil
		}
		return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", yamlErr)
	}
}

func parseJSON[T any](data []byte) (*T, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
	}
	return &m, nil
}

func parseYAML[T any](data []byte) (*T, error) {
	var m T
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	return &m, nil
}

// toJSON converts the input data to JSON format for schema validation.
func toJSON(data []byte, path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
		}
		return data, nil

	case ".yaml", ".yml":
		return yamlToJSON(data)

	default:
		// Try YAML first (superset of JSON)
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", err)
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	return jsonData, nil
}
