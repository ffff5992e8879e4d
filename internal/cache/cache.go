package cache

import (
	"context"
	"time"
)

// Store is the narrow key/TTL contract the core requires of its cache:
// get/put/delete by key with a TTL on put. No transactional guarantees.
type Store interface {
	// Get returns the value for key and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, expiring after ttl.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Delete removes key unconditionally. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases the underlying connection.
	Close() error
}
