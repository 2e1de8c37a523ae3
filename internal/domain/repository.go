// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation:
// every read and write filters by the owning company.
type Repository interface {
	// Rule operations
	ListActiveRules(ctx context.Context, tenantID string) ([]*TransactionRule, error)
	ListRules(ctx context.Context, tenantID string) ([]*TransactionRule, error)
	GetRule(ctx context.Context, tenantID string, ruleID string) (*TransactionRule, error)
	InsertRules(ctx context.Context, tenantID string, drafts []*RuleDraft) ([]*TransactionRule, error)
	UpdateRule(ctx context.Context, tenantID string, ruleID string, patch *RulePatch) (*TransactionRule, error)
	DeleteRule(ctx context.Context, tenantID string, ruleID string) error
	RecordRuleApplied(ctx context.Context, tenantID string, ruleID string, at time.Time) error

	// Transaction history (feeds rule generation and async matching)
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	ListRecentTransactions(ctx context.Context, tenantID string, limit int) ([]*Transaction, error)

	// Match run audit records
	SaveMatchRun(ctx context.Context, tenantID string, run *MatchRun) error
	GetMatchRun(ctx context.Context, tenantID string, runID string) (*MatchRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Retry settings for transient failures (timeouts, network errors).
	// Validation errors are never retried.
	MaxRetries   int
	RetryBackoff time.Duration
}
