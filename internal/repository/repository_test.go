package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/impulso-energetico/comision/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()

	store, err := New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testRule(tenantID, sectionID, subSectionID string, level domain.Level) *domain.CommissionRule {
	return &domain.CommissionRule{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		SectionID:    sectionID,
		SubSectionID: subSectionID,
		Level:        level,
		CalcType:     domain.CalcPercentOfBase,
		Percentage:   dec("0.10"),
		Active:       true,
	}
}

func seedCatalog(t *testing.T, store domain.Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.SaveSection(ctx, &domain.Section{
		ID: "luz", Name: "Luz", Slug: "luz", Active: true,
	}); err != nil {
		t.Fatalf("failed to save section: %v", err)
	}
	if err := store.SaveSubSection(ctx, &domain.SubSection{
		ID: "luz-2x", SectionID: "luz", Name: "Tarifa 2.0", Slug: "tarifa-20", Active: true,
	}); err != nil {
		t.Fatalf("failed to save subsection: %v", err)
	}
	if err := store.SaveSubSection(ctx, &domain.SubSection{
		ID: "luz-2x-dh", SectionID: "luz", ParentID: "luz-2x",
		Name: "Discriminación horaria", Slug: "tarifa-20-dh", Active: true,
	}); err != nil {
		t.Fatalf("failed to save nested subsection: %v", err)
	}
}

func TestRuleCRUD(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	rule := testRule("tenant-1", "luz", "luz-2x", domain.LevelC1)
	rule.MinAgent = dec("50")
	rule.MaxAgent = dec("500")

	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := store.GetRule(ctx, rule.ID)
		if err != nil {
			t.Fatalf("failed to get rule: %v", err)
		}
		if got.TenantID != "tenant-1" || got.SectionID != "luz" || got.Level != domain.LevelC1 {
			t.Errorf("identity mismatch: %+v", got)
		}
		if got.Percentage == nil || !got.Percentage.Equal(decimal.RequireFromString("0.10")) {
			t.Errorf("expected percentage 0.10, got %v", got.Percentage)
		}
		if got.MinAgent == nil || got.MaxAgent == nil {
			t.Errorf("agent bounds should round-trip")
		}
		if got.MinTotal != nil {
			t.Errorf("unset bound should stay nil, got %v", got.MinTotal)
		}
	})

	t.Run("Update", func(t *testing.T) {
		got, err := store.UpdateRule(ctx, rule.ID, domain.RulePatch{
			Percentage: domain.NullableDecimal{Set: true, Value: dec("0.15")},
			MinAgent:   domain.NullableDecimal{Set: true, Value: nil},
		})
		if err != nil {
			t.Fatalf("failed to update rule: %v", err)
		}
		if !got.Percentage.Equal(decimal.RequireFromString("0.15")) {
			t.Errorf("expected updated percentage 0.15, got %v", got.Percentage)
		}
		if got.MinAgent != nil {
			t.Errorf("explicit null should clear the bound")
		}
		if got.MaxAgent == nil {
			t.Errorf("untouched bound should survive the patch")
		}
	})

	t.Run("Toggle", func(t *testing.T) {
		got, err := store.SetRuleActive(ctx, rule.ID, false)
		if err != nil {
			t.Fatalf("failed to deactivate rule: %v", err)
		}
		if got.Active {
			t.Error("rule should be inactive")
		}

		// Inactive rules are invisible to resolution lookups
		if _, err := store.FindRule(ctx, "tenant-1", "luz", "luz-2x", domain.LevelC1); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("inactive rule should not be findable, got %v", err)
		}

		// But still listed
		rules, err := store.ListRules(ctx, domain.TenantScope("tenant-1"), domain.RuleFilter{})
		if err != nil {
			t.Fatalf("failed to list rules: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("inactive rule should still be listed, got %d rules", len(rules))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := store.GetRule(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.SetRuleActive(ctx, "missing", true); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDuplicateIdentity(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	if err := store.CreateRule(ctx, testRule("tenant-1", "luz", "luz-2x", domain.LevelC1)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	err := store.CreateRule(ctx, testRule("tenant-1", "luz", "luz-2x", domain.LevelC1))
	if !errors.Is(err, domain.ErrDuplicateRule) {
		t.Fatalf("expected ErrDuplicateRule, got %v", err)
	}

	// Same identity with a different level is fine
	if err := store.CreateRule(ctx, testRule("tenant-1", "luz", "luz-2x", domain.LevelC2)); err != nil {
		t.Errorf("different level should not collide: %v", err)
	}

	// Global and section-general slots are distinct identities too
	if err := store.CreateRule(ctx, testRule("", "luz", "luz-2x", domain.LevelC1)); err != nil {
		t.Errorf("global rule should not collide with tenant rule: %v", err)
	}
	if err := store.CreateRule(ctx, testRule("tenant-1", "luz", "", domain.LevelC1)); err != nil {
		t.Errorf("section-general rule should not collide: %v", err)
	}
	if err := store.CreateRule(ctx, testRule("", "luz", "", domain.LevelC1)); !errors.Is(err, nil) {
		t.Errorf("global general rule should not collide: %v", err)
	}
	if err := store.CreateRule(ctx, testRule("", "luz", "", domain.LevelC1)); !errors.Is(err, domain.ErrDuplicateRule) {
		t.Errorf("duplicate global general rule should collide, got %v", err)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	t.Run("MissingPercentage", func(t *testing.T) {
		rule := testRule("tenant-1", "luz", "", domain.LevelC1)
		rule.Percentage = nil
		if err := store.CreateRule(ctx, rule); !errors.Is(err, domain.ErrInvalidRule) {
			t.Errorf("expected ErrInvalidRule, got %v", err)
		}
	})

	t.Run("UnknownSubSection", func(t *testing.T) {
		rule := testRule("tenant-1", "luz", "gas-rl1", domain.LevelC1)
		if err := store.CreateRule(ctx, rule); !errors.Is(err, domain.ErrInvalidRule) {
			t.Errorf("expected ErrInvalidRule for unknown subsection, got %v", err)
		}
	})

	t.Run("NestedSubSection", func(t *testing.T) {
		rule := testRule("tenant-1", "luz", "luz-2x-dh", domain.LevelC1)
		if err := store.CreateRule(ctx, rule); !errors.Is(err, domain.ErrInvalidRule) {
			t.Errorf("expected ErrInvalidRule for nested subsection, got %v", err)
		}
	})

	t.Run("InvertedBounds", func(t *testing.T) {
		rule := testRule("tenant-1", "luz", "", domain.LevelC2)
		rule.MinTotal = dec("100")
		rule.MaxTotal = dec("10")
		if err := store.CreateRule(ctx, rule); !errors.Is(err, domain.ErrInvalidRule) {
			t.Errorf("expected ErrInvalidRule for inverted bounds, got %v", err)
		}
	})

	t.Run("PatchCannotBreakInvariants", func(t *testing.T) {
		rule := testRule("tenant-1", "luz", "", domain.LevelC3)
		if err := store.CreateRule(ctx, rule); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		_, err := store.UpdateRule(ctx, rule.ID, domain.RulePatch{
			Percentage: domain.NullableDecimal{Set: true, Value: dec("1.5")},
		})
		if !errors.Is(err, domain.ErrInvalidRule) {
			t.Errorf("expected ErrInvalidRule for percentage > 1, got %v", err)
		}
	})
}

func TestTenantIsolation(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	if err := store.CreateRule(ctx, testRule("tenant-1", "luz", "", domain.LevelC1)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.CreateRule(ctx, testRule("tenant-2", "luz", "", domain.LevelC1)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.CreateRule(ctx, testRule("", "luz", "", domain.LevelC1)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for _, scope := range []domain.TenantScope{"tenant-1", "tenant-2", domain.ScopeGlobal} {
		rules, err := store.ListRules(ctx, scope, domain.RuleFilter{})
		if err != nil {
			t.Fatalf("list failed for %q: %v", scope, err)
		}
		if len(rules) != 1 {
			t.Errorf("scope %q should see exactly its own rule, got %d", scope, len(rules))
		}
		if len(rules) == 1 && rules[0].TenantID != string(scope) {
			t.Errorf("scope %q leaked rule owned by %q", scope, rules[0].TenantID)
		}
	}
}

func TestListRulesFilter(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	if err := store.SaveSection(ctx, &domain.Section{ID: "gas", Name: "Gas", Slug: "gas", Active: true}); err != nil {
		t.Fatalf("failed to save section: %v", err)
	}

	for _, r := range []*domain.CommissionRule{
		testRule("tenant-1", "luz", "luz-2x", domain.LevelC1),
		testRule("tenant-1", "luz", "", domain.LevelC1),
		testRule("tenant-1", "gas", "", domain.LevelC1),
	} {
		if err := store.CreateRule(ctx, r); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	rules, err := store.ListRules(ctx, "tenant-1", domain.RuleFilter{SectionID: "luz"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("expected 2 luz rules, got %d", len(rules))
	}

	rules, err = store.ListRules(ctx, "tenant-1", domain.RuleFilter{SectionID: "luz", SubSectionID: "luz-2x"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("expected 1 subsection rule, got %d", len(rules))
	}
}

func TestCatalog(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sections, err := store.ListSections(ctx)
	if err != nil {
		t.Fatalf("failed to list sections: %v", err)
	}
	if len(sections) != 1 || sections[0].ID != "luz" {
		t.Errorf("unexpected sections: %+v", sections)
	}

	subs, err := store.ListSubSections(ctx, "luz")
	if err != nil {
		t.Fatalf("failed to list subsections: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("expected 2 subsections, got %d", len(subs))
	}

	// Upsert updates in place
	if err := store.SaveSection(ctx, &domain.Section{ID: "luz", Name: "Electricidad", Slug: "luz", Active: true}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	sections, _ = store.ListSections(ctx)
	if len(sections) != 1 || sections[0].Name != "Electricidad" {
		t.Errorf("upsert should update, got %+v", sections)
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	margin := decimal.RequireFromString("300")
	set := &domain.Settlement{
		ID:           uuid.New().String(),
		TenantID:     "tenant-1",
		RuleID:       uuid.New().String(),
		SectionID:    "luz",
		SubSectionID: "luz-2x",
		Level:        domain.LevelC2,
		BaseAmount:   decimal.RequireFromString("1000"),
		MarginAmount: &margin,
		SpecialPlace: true,
		Breakdown: domain.Breakdown{
			Raw:   decimal.RequireFromString("100"),
			Total: decimal.RequireFromString("100"),
			Agent: decimal.RequireFromString("60"),
			Final: decimal.RequireFromString("60"),
		},
		Metadata: domain.SettlementMetadata{
			TraceID:     "trace-1",
			Source:      "api",
			DaySequence: 7,
			Version:     "test",
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := store.SaveSettlement(ctx, set); err != nil {
		t.Fatalf("failed to save settlement: %v", err)
	}

	got, err := store.GetSettlement(ctx, "tenant-1", set.ID)
	if err != nil {
		t.Fatalf("failed to get settlement: %v", err)
	}
	if !got.BaseAmount.Equal(set.BaseAmount) {
		t.Errorf("base amount mismatch: %v", got.BaseAmount)
	}
	if got.MarginAmount == nil || !got.MarginAmount.Equal(margin) {
		t.Errorf("margin mismatch: %v", got.MarginAmount)
	}
	if !got.SpecialPlace {
		t.Error("special place flag lost")
	}
	if !got.Breakdown.Agent.Equal(set.Breakdown.Agent) {
		t.Errorf("breakdown mismatch: %v", got.Breakdown)
	}
	if got.Metadata.DaySequence != 7 || got.Metadata.TraceID != "trace-1" {
		t.Errorf("metadata mismatch: %+v", got.Metadata)
	}

	// Another tenant's scope cannot read it
	if _, err := store.GetSettlement(ctx, "tenant-2", set.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cross-tenant read should fail with ErrNotFound, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	s := &SQLStore{driver: "postgres"}
	got := s.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	if got != want {
		t.Errorf("rebind mismatch:\n got: %s\nwant: %s", got, want)
	}

	s.driver = "sqlite"
	if s.rebind("a = ?") != "a = ?" {
		t.Error("sqlite queries should pass through unchanged")
	}
}
