// Package objstore stores image blobs by opaque key.
package objstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Store is the blob store used by the upload path and the worker pool.
// Delete is unconditional and succeeds for keys that do not exist.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string) (string, error)
	// List returns keys under prefix last modified before olderThan.
	List(ctx context.Context, prefix string, olderThan time.Time) ([]string, error)
}
