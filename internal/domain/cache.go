package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRuleSet retrieves the cached active rule snapshot for a tenant.
	// Returns nil, nil on a miss.
	GetRuleSet(ctx context.Context, tenantID string) ([]*TransactionRule, error)

	// SetRuleSet caches the active rule snapshot for a tenant.
	SetRuleSet(ctx context.Context, tenantID string, rules []*TransactionRule, ttl time.Duration) error

	// InvalidateRuleSet drops the cached snapshot after a rule write.
	InvalidateRuleSet(ctx context.Context, tenantID string) error

	// IncrementCounter atomically increments a counter and returns the
	// new value. Used to rate-limit oracle generation calls per tenant.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

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

	// RuleSetTTL bounds staleness of the per-tenant rule snapshot.
	RuleSetTTL time.Duration
}
