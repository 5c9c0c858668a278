package repository

// Schema definitions for the commission engine database.
// Compatible with both SQLite and PostgreSQL.
//
// tenant_id and sub_section_id use the empty string instead of NULL so the
// composite-identity unique index holds: both engines treat NULLs as
// distinct in unique indexes, which would break duplicate detection for
// global and section-general rules.

const schemaSections = `
CREATE TABLE IF NOT EXISTS sections (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    color TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sections_slug ON sections(slug);
`

const schemaSubSections = `
CREATE TABLE IF NOT EXISTS sub_sections (
    id TEXT PRIMARY KEY,
    section_id TEXT NOT NULL,
    parent_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sub_sections_section ON sub_sections(section_id);
`

const schemaCommissionRules = `
CREATE TABLE IF NOT EXISTS commission_rules (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL DEFAULT '',
    section_id TEXT NOT NULL,
    sub_section_id TEXT NOT NULL DEFAULT '',
    level TEXT NOT NULL,
    calc_type TEXT NOT NULL,
    fixed_amount TEXT,
    percentage TEXT,
    min_total TEXT,
    max_total TEXT,
    min_agent TEXT,
    max_agent TEXT,
    min_special_place TEXT,
    max_special_place TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_identity
    ON commission_rules(tenant_id, section_id, sub_section_id, level);
CREATE INDEX IF NOT EXISTS idx_rules_tenant ON commission_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rules_lookup
    ON commission_rules(tenant_id, section_id, sub_section_id, level, active);
`

const schemaSettlements = `
CREATE TABLE IF NOT EXISTS settlements (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL DEFAULT '',
    rule_id TEXT NOT NULL,
    section_id TEXT NOT NULL,
    sub_section_id TEXT NOT NULL DEFAULT '',
    level TEXT NOT NULL,
    base_amount TEXT NOT NULL,
    margin_amount TEXT,
    special_place INTEGER NOT NULL DEFAULT 0,
    raw_commission TEXT NOT NULL,
    total_commission TEXT NOT NULL,
    agent_commission TEXT NOT NULL,
    final_commission TEXT NOT NULL,
    metadata TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settlements_tenant ON settlements(tenant_id);
CREATE INDEX IF NOT EXISTS idx_settlements_rule ON settlements(tenant_id, rule_id);
CREATE INDEX IF NOT EXISTS idx_settlements_created ON settlements(tenant_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSections,
		schemaSubSections,
		schemaCommissionRules,
		schemaSettlements,
	}
}
