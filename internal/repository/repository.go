// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/impulso-energetico/comision/internal/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const ruleColumns = `id, tenant_id, section_id, sub_section_id, level, calc_type,
	fixed_amount, percentage,
	min_total, max_total, min_agent, max_agent, min_special_place, max_special_place,
	active, created_at, updated_at`

// CreateRule inserts a rule. The composite-identity unique index is the
// atomic arbiter for concurrent creates: the second writer gets
// ErrDuplicateRule regardless of interleaving.
func (s *SQLStore) CreateRule(ctx context.Context, rule *domain.CommissionRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := s.checkSubSection(ctx, rule.SectionID, rule.SubSectionID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO commission_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rule.ID, rule.TenantID, rule.SectionID, rule.SubSectionID,
		string(rule.Level), string(rule.CalcType),
		decToNull(rule.FixedAmount), decToNull(rule.Percentage),
		decToNull(rule.MinTotal), decToNull(rule.MaxTotal),
		decToNull(rule.MinAgent), decToNull(rule.MaxAgent),
		decToNull(rule.MinSpecialPlace), decToNull(rule.MaxSpecialPlace),
		boolToInt(rule.Active), rule.CreatedAt, rule.UpdatedAt,
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRule, rule.IdentityKey())
	}
	return err
}

// checkSubSection enforces that a non-general rule addresses a direct
// subsection of its section.
func (s *SQLStore) checkSubSection(ctx context.Context, sectionID, subSectionID string) error {
	if subSectionID == "" {
		return nil
	}
	ss, err := s.GetSubSection(ctx, subSectionID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: unknown subsection %q", domain.ErrInvalidRule, subSectionID)
	}
	if err != nil {
		return err
	}
	if ss.SectionID != sectionID {
		return fmt.Errorf("%w: subsection %q does not belong to section %q", domain.ErrInvalidRule, subSectionID, sectionID)
	}
	if ss.ParentID != "" {
		return fmt.Errorf("%w: rules attach only to direct subsections, %q is nested", domain.ErrInvalidRule, subSectionID)
	}
	return nil
}

// UpdateRule applies a partial update and re-validates the merged rule.
// Identity fields are immutable by construction of RulePatch.
func (s *SQLStore) UpdateRule(ctx context.Context, id string, patch domain.RulePatch) (*domain.CommissionRule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := patch.Apply(*rule)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	merged.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE commission_rules SET
			calc_type = ?,
			fixed_amount = ?, percentage = ?,
			min_total = ?, max_total = ?,
			min_agent = ?, max_agent = ?,
			min_special_place = ?, max_special_place = ?,
			active = ?, updated_at = ?
		WHERE id = ?
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		string(merged.CalcType),
		decToNull(merged.FixedAmount), decToNull(merged.Percentage),
		decToNull(merged.MinTotal), decToNull(merged.MaxTotal),
		decToNull(merged.MinAgent), decToNull(merged.MaxAgent),
		decToNull(merged.MinSpecialPlace), decToNull(merged.MaxSpecialPlace),
		boolToInt(merged.Active), merged.UpdatedAt,
		id,
	)
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

// SetRuleActive toggles the active flag only.
func (s *SQLStore) SetRuleActive(ctx context.Context, id string, active bool) (*domain.CommissionRule, error) {
	query := `UPDATE commission_rules SET active = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, s.rebind(query), boolToInt(active), time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetRule(ctx, id)
}

// GetRule retrieves a rule by ID.
func (s *SQLStore) GetRule(ctx context.Context, id string) (*domain.CommissionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM commission_rules WHERE id = ?`
	return s.scanRule(s.db.QueryRowContext(ctx, s.rebind(query), id))
}

// FindRule returns the single active rule for the exact composite identity.
func (s *SQLStore) FindRule(ctx context.Context, tenantID, sectionID, subSectionID string, level domain.Level) (*domain.CommissionRule, error) {
	query := `
		SELECT ` + ruleColumns + ` FROM commission_rules
		WHERE tenant_id = ? AND section_id = ? AND sub_section_id = ? AND level = ? AND active = 1
	`
	return s.scanRule(s.db.QueryRowContext(ctx, s.rebind(query), tenantID, sectionID, subSectionID, string(level)))
}

// ListRules returns all rules owned by the scope, inactive included
// (inactive rules stay visible and editable).
func (s *SQLStore) ListRules(ctx context.Context, scope domain.TenantScope, filter domain.RuleFilter) ([]*domain.CommissionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM commission_rules WHERE tenant_id = ?`
	args := []any{string(scope)}

	if filter.SectionID != "" {
		query += ` AND section_id = ?`
		args = append(args, filter.SectionID)
	}
	if filter.SubSectionID != "" {
		query += ` AND sub_section_id = ?`
		args = append(args, filter.SubSectionID)
	}
	query += ` ORDER BY section_id, sub_section_id, level`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CommissionRule
	for rows.Next() {
		rule, err := s.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanRule(row rowScanner) (*domain.CommissionRule, error) {
	var rule domain.CommissionRule
	var level, calcType string
	var fixed, pct, minT, maxT, minA, maxA, minSP, maxSP sql.NullString
	var active int

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.SectionID, &rule.SubSectionID,
		&level, &calcType,
		&fixed, &pct,
		&minT, &maxT, &minA, &maxA, &minSP, &maxSP,
		&active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Level = domain.Level(level)
	rule.CalcType = domain.CalcType(calcType)
	rule.Active = active == 1

	for _, f := range []struct {
		src sql.NullString
		dst **decimal.Decimal
	}{
		{fixed, &rule.FixedAmount}, {pct, &rule.Percentage},
		{minT, &rule.MinTotal}, {maxT, &rule.MaxTotal},
		{minA, &rule.MinAgent}, {maxA, &rule.MaxAgent},
		{minSP, &rule.MinSpecialPlace}, {maxSP, &rule.MaxSpecialPlace},
	} {
		d, err := nullToDec(f.src)
		if err != nil {
			return nil, fmt.Errorf("corrupt decimal column for rule %s: %w", rule.ID, err)
		}
		*f.dst = d
	}

	return &rule, nil
}

// SaveSection upserts a catalog section.
func (s *SQLStore) SaveSection(ctx context.Context, sec *domain.Section) error {
	now := time.Now().UTC()
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = now
	}
	sec.UpdatedAt = now

	query := `
		INSERT INTO sections (id, name, slug, color, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			color = excluded.color,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		sec.ID, sec.Name, sec.Slug, sec.Color, boolToInt(sec.Active),
		sec.CreatedAt, sec.UpdatedAt,
	)
	return err
}

// SaveSubSection upserts a catalog subsection.
func (s *SQLStore) SaveSubSection(ctx context.Context, ss *domain.SubSection) error {
	now := time.Now().UTC()
	if ss.CreatedAt.IsZero() {
		ss.CreatedAt = now
	}
	ss.UpdatedAt = now

	query := `
		INSERT INTO sub_sections (id, section_id, parent_id, name, slug, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			section_id = excluded.section_id,
			parent_id = excluded.parent_id,
			name = excluded.name,
			slug = excluded.slug,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		ss.ID, ss.SectionID, ss.ParentID, ss.Name, ss.Slug, boolToInt(ss.Active),
		ss.CreatedAt, ss.UpdatedAt,
	)
	return err
}

// GetSubSection retrieves a subsection by ID.
func (s *SQLStore) GetSubSection(ctx context.Context, id string) (*domain.SubSection, error) {
	query := `
		SELECT id, section_id, parent_id, name, slug, active, created_at, updated_at
		FROM sub_sections WHERE id = ?
	`

	var ss domain.SubSection
	var active int
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&ss.ID, &ss.SectionID, &ss.ParentID, &ss.Name, &ss.Slug, &active,
		&ss.CreatedAt, &ss.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ss.Active = active == 1
	return &ss, nil
}

// ListSections returns all catalog sections ordered by name.
func (s *SQLStore) ListSections(ctx context.Context) ([]*domain.Section, error) {
	query := `SELECT id, name, slug, color, active, created_at, updated_at FROM sections ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []*domain.Section
	for rows.Next() {
		var sec domain.Section
		var color sql.NullString
		var active int
		if err := rows.Scan(&sec.ID, &sec.Name, &sec.Slug, &color, &active, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
			return nil, err
		}
		sec.Color = color.String
		sec.Active = active == 1
		sections = append(sections, &sec)
	}
	return sections, rows.Err()
}

// ListSubSections returns a section's subsections ordered by name.
func (s *SQLStore) ListSubSections(ctx context.Context, sectionID string) ([]*domain.SubSection, error) {
	query := `
		SELECT id, section_id, parent_id, name, slug, active, created_at, updated_at
		FROM sub_sections WHERE section_id = ? ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.SubSection
	for rows.Next() {
		var ss domain.SubSection
		var active int
		if err := rows.Scan(&ss.ID, &ss.SectionID, &ss.ParentID, &ss.Name, &ss.Slug, &active, &ss.CreatedAt, &ss.UpdatedAt); err != nil {
			return nil, err
		}
		ss.Active = active == 1
		subs = append(subs, &ss)
	}
	return subs, rows.Err()
}

// SaveSettlement stores a settlement record with tenant isolation.
func (s *SQLStore) SaveSettlement(ctx context.Context, set *domain.Settlement) error {
	metadata, _ := json.Marshal(set.Metadata)

	query := `
		INSERT INTO settlements (
			id, tenant_id, rule_id, section_id, sub_section_id, level,
			base_amount, margin_amount, special_place,
			raw_commission, total_commission, agent_commission, final_commission,
			metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		set.ID, set.TenantID, set.RuleID, set.SectionID, set.SubSectionID, string(set.Level),
		set.BaseAmount.String(), decToNull(set.MarginAmount), boolToInt(set.SpecialPlace),
		set.Breakdown.Raw.String(), set.Breakdown.Total.String(),
		set.Breakdown.Agent.String(), set.Breakdown.Final.String(),
		string(metadata), set.CreatedAt,
	)
	return err
}

// GetSettlement retrieves a settlement by ID within a scope.
func (s *SQLStore) GetSettlement(ctx context.Context, scope domain.TenantScope, id string) (*domain.Settlement, error) {
	query := `
		SELECT id, tenant_id, rule_id, section_id, sub_section_id, level,
			   base_amount, margin_amount, special_place,
			   raw_commission, total_commission, agent_commission, final_commission,
			   metadata, created_at
		FROM settlements
		WHERE tenant_id = ? AND id = ?
	`

	var set domain.Settlement
	var level, base, raw, total, agent, final, metadata string
	var margin sql.NullString
	var special int

	err := s.db.QueryRowContext(ctx, s.rebind(query), string(scope), id).Scan(
		&set.ID, &set.TenantID, &set.RuleID, &set.SectionID, &set.SubSectionID, &level,
		&base, &margin, &special,
		&raw, &total, &agent, &final,
		&metadata, &set.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	set.Level = domain.Level(level)
	set.SpecialPlace = special == 1
	if set.BaseAmount, err = decimal.NewFromString(base); err != nil {
		return nil, fmt.Errorf("corrupt settlement %s: %w", id, err)
	}
	if set.MarginAmount, err = nullToDec(margin); err != nil {
		return nil, fmt.Errorf("corrupt settlement %s: %w", id, err)
	}
	for _, f := range []struct {
		src string
		dst *decimal.Decimal
	}{
		{raw, &set.Breakdown.Raw}, {total, &set.Breakdown.Total},
		{agent, &set.Breakdown.Agent}, {final, &set.Breakdown.Final},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("corrupt settlement %s: %w", id, err)
		}
	}
	json.Unmarshal([]byte(metadata), &set.Metadata)

	return &set, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// isDuplicate reports whether err is a unique-constraint violation from
// either driver.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

func decToNull(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullToDec(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
