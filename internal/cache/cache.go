// Package cache provides the small key-value surface the chat services need
// for provider tokens and verification markers. Deployments choose between a
// process-local map and Redis through a URL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is the backend-agnostic surface. Values are opaque strings; callers
// bring their own encoding.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores the value. A non-positive ttl stores it without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// BuildFromURL selects a backend from a cache URL. An empty URL or the
// "memory" scheme yields the in-process cache; "redis" and "rediss" URLs
// yield the Redis adapter.
func BuildFromURL(ctx context.Context, rawURL string) (Cache, error) {
	trimmed := strings.TrimSpace(rawURL)
	switch {
	case trimmed == "", strings.HasPrefix(trimmed, "memory"):
		return NewMemory(MemoryConfig{}), nil
	case strings.HasPrefix(trimmed, "redis://"), strings.HasPrefix(trimmed, "rediss://"):
		return NewRedis(ctx, trimmed)
	default:
		return nil, fmt.Errorf("cache: unsupported url %q", rawURL)
	}
}
