// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. A miss is reported as
// found=false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Loader produces the value for a key on a cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// LoadingCache is a Cache that can populate itself on a miss.
type LoadingCache interface {
	Cache
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error)
}
