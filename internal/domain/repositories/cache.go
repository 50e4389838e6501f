package repositories

import (
	"context"
	"time"
)

// Cache is a string key-value store with per-key expiry. It is an accelerator
// only: callers fall back to the durable store on a miss or an error.
type Cache interface {
	// Get returns the value and whether the key was present
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value with the given time to live
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes keys; missing keys are not an error
	Delete(ctx context.Context, keys ...string) error

	// Scan returns the keys matching a glob pattern
	Scan(ctx context.Context, pattern string) ([]string, error)
}
