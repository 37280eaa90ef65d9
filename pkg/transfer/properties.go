package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ContentPropertiesFile is the name of the per-snapshot properties file.
const ContentPropertiesFile = "content-properties.json"

// ContentProperties are the object properties captured for one item.
type ContentProperties struct {
	Size         int64             `json:"size"`
	ETag         string            `json:"etag,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	LastModified time.Time         `json:"last_modified,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// LoadContentProperties reads a content-properties.json file.
//
// A missing file yields an empty map.
func LoadContentProperties(path string) (map[string]ContentProperties, error) {
	out := map[string]ContentProperties{}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read content properties: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse content properties %s: %w", path, err)
	}
	return out, nil
}

// writeJSONAtomic writes v as indented JSON via temp file + rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
