package repositories

import (
	"context"
	"time"
)

// BlobStore stores raw and merged session audio
type BlobStore interface {
	// List returns the object paths under prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Upload writes data at path, replacing any existing object
	Upload(ctx context.Context, path string, data []byte, contentType string) error

	// Download reads the object at path, returning entities.ErrBlobNotFound when absent
	Download(ctx context.Context, path string) ([]byte, error)

	// Delete removes the objects at paths
	Delete(ctx context.Context, paths ...string) error

	// PresignedURL returns a time-limited download URL for path
	PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)
}
