package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for absent or expired keys.
var ErrNotFound = errors.New("kv: not found")

// Store is a keyed byte store with per-key expiry. Every write supplies its
// own TTL; there is no partial update and no durability promise beyond the
// expiry window.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
