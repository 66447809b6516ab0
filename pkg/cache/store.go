// Package cache implements the second-level cache shared by sessions.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for cache stores
var (
	// ErrMiss is returned by Store.Get when a key is absent or expired
	ErrMiss = errors.New("cache key not found")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("cache store closed")
)

// IsMiss checks if an error is ErrMiss
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

// Store is the byte-level backend of the second-level cache. A dependency
// is a named set of keys that can be invalidated together.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	AddDependency(ctx context.Context, dependency, key string) error
	InvalidateDependency(ctx context.Context, dependency string) error
	Close() error
}
