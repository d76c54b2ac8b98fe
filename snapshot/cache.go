package snapshot

import (
	"context"
	"time"
)

// Cache is the remote key-value collaborator. Implementations must be safe for
// concurrent use; every method is an I/O boundary.
type Cache interface {
	// Get reports ok=false without error when key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete returns how many of keys existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// SetAdd adds member to the set at key and makes sure the set lives at least ttl
	// from now. It never shortens an existing expiry.
	SetAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SetMembers(ctx context.Context, key string) ([]string, error)
}
