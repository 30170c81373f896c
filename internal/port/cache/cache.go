// Package cache defines the key-value cache port backing webhook dedup and
// operator-request idempotency.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL key-value store. The bool on Get distinguishes a missing
// key from an empty value.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
