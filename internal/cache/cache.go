// Package cache provides the result cache for finished diagnostics.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vetlab/bloodwork-analyzer/internal/config"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the cache selected by cfg.Driver.
func Open(ctx context.Context, cfg config.CacheConfig) (Client, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemoryClient(cfg.MaxEntries), nil
	case "redis":
		return NewRedisClient(ctx, cfg.Redis)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported cache driver %q", cfg.Driver), nil)
	}
}

// CacheKey generates a cache key from components.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// DiagnosticKey is the cache key of one diagnostic record.
func DiagnosticKey(id string) string {
	return CacheKey("diagnostic", id)
}
