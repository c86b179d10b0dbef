// Package blob stores uploaded file content outside the database.
// Rows in the files table carry the key; the bytes live here.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Open when no object exists for the key.
var ErrNotFound = errors.New("blob not found")

// Store is implemented by LocalStore and S3Store.
type Store interface {
	// Put writes size bytes from r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Open returns a reader for the object. Caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
