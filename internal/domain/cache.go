package domain

import (
	"context"
	"time"
)

// Cache defines the resolution cache interface. Entries are namespaced by
// the owning scope's cache key ("*" for global rules), so invalidating a
// mutated rule touches exactly one namespace regardless of how many tenants
// resolve through it.
type Cache interface {
	// Get retrieves a value. Returns nil, nil when the key is absent.
	Get(ctx context.Context, scope string, key string) ([]byte, error)

	// Set stores a value with expiration.
	Set(ctx context.Context, scope string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, scope string, key string) error

	// GetRule retrieves a cached rule lookup.
	GetRule(ctx context.Context, scope string, key string) (*CommissionRule, error)

	// SetRule caches a positive rule lookup.
	SetRule(ctx context.Context, scope string, key string, rule *CommissionRule, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and returns
	// the new value. Used for per-tenant settlement day sequences.
	IncrementCounter(ctx context.Context, scope string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
