package domain

import (
	"context"
	"time"
)

// Store defines the interface for rule, catalog and settlement persistence.
// The store enforces the composite-identity uniqueness invariant atomically
// (unique constraint); it does not enforce cross-tenant visibility — that is
// the caller's job via TenantScope.
type Store interface {
	// Rule operations
	CreateRule(ctx context.Context, rule *CommissionRule) error
	UpdateRule(ctx context.Context, id string, patch RulePatch) (*CommissionRule, error)
	SetRuleActive(ctx context.Context, id string, active bool) (*CommissionRule, error)
	GetRule(ctx context.Context, id string) (*CommissionRule, error)
	ListRules(ctx context.Context, scope TenantScope, filter RuleFilter) ([]*CommissionRule, error)

	// FindRule returns the single active rule for the exact identity
	// (tenant, section, subsection, level), or ErrNotFound.
	FindRule(ctx context.Context, tenantID, sectionID, subSectionID string, level Level) (*CommissionRule, error)

	// Catalog operations (upsert/list only; catalog management is external)
	SaveSection(ctx context.Context, s *Section) error
	SaveSubSection(ctx context.Context, s *SubSection) error
	GetSubSection(ctx context.Context, id string) (*SubSection, error)
	ListSections(ctx context.Context) ([]*Section, error)
	ListSubSections(ctx context.Context, sectionID string) ([]*SubSection, error)

	// Settlement records
	SaveSettlement(ctx context.Context, s *Settlement) error
	GetSettlement(ctx context.Context, scope TenantScope, id string) (*Settlement, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
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
}
