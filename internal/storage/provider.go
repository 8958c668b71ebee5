// Package storage defines the blob store used for exported artifacts.
// Backends live in the gcs, local and memory subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore uploads one object and returns a URI naming where it landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
