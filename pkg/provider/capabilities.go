package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces.
//
// These interfaces are used for feature detection (type assertions). The core
// Provider interface remains intentionally small.

// PutOptions carries object properties applied on upload.
type PutOptions struct {
	// ContentType is the MIME type recorded with the object. Empty leaves the
	// provider default.
	ContentType string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// ObjectPutter can create/overwrite objects.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts PutOptions) error
}

// ObjectDeleter can delete objects.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// ObjectGetter can download objects as a stream.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// ReadProvider is a Provider that can stream object bodies.
type ReadProvider interface {
	Provider
	ObjectGetter
}

// WriteProvider is a Provider that can store object bodies.
type WriteProvider interface {
	Provider
	ObjectPutter
}
