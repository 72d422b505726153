// Package cache provides the best-effort caches the gateway runs on: a
// dedup fast-path for recently ingested message ids and a read-through cache
// for manifest documents. All operations degrade to misses on failure; the
// pipeline never depends on the cache for correctness.
package cache

import (
	"context"
	"time"
)

// Cache is a byte cache with TTLs. Implementations swallow backend errors
// and report them as misses.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores the value for the TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// SetNX stores the value only if the key is absent, reporting whether
	// the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) bool

	// Delete drops the key.
	Delete(ctx context.Context, key string)
}

// Nop is a Cache that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool)                { return nil, false }
func (Nop) Set(context.Context, string, []byte, time.Duration)        {}
func (Nop) SetNX(context.Context, string, []byte, time.Duration) bool { return true }
func (Nop) Delete(context.Context, string)                            {}
