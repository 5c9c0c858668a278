package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/impulso-energetico/comision/internal/bus"
	"github.com/impulso-energetico/comision/internal/domain"
	"github.com/impulso-energetico/comision/internal/repository"
	"github.com/impulso-energetico/comision/internal/rules"
	"github.com/shopspring/decimal"
)

func newTestWorker(t *testing.T) (*Worker, domain.Store, *bus.ChannelBus) {
	t.Helper()

	store, err := repository.New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if err := store.SaveSection(ctx, &domain.Section{
		ID: "luz", Name: "Luz", Slug: "luz", Active: true,
	}); err != nil {
		t.Fatalf("failed to seed section: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	resolver := rules.NewResolver(store, nil, time.Minute)
	w := NewWorker(eventBus, store, resolver, "test")
	t.Cleanup(func() { w.Stop() })

	return w, store, eventBus
}

func seedRule(t *testing.T, store domain.Store, tenantID string, percentage string) *domain.CommissionRule {
	t.Helper()

	p := decimal.RequireFromString(percentage)
	rule := &domain.CommissionRule{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		SectionID:  "luz",
		Level:      domain.LevelC1,
		CalcType:   domain.CalcPercentOfBase,
		Percentage: &p,
		Active:     true,
	}
	if err := store.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}
	return rule
}

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestWorkerSettles(t *testing.T) {
	w, store, eventBus := newTestWorker(t)
	ctx := context.Background()

	rule := seedRule(t, store, "tenant-1", "0.10")

	if err := w.Start(Config{Tenants: []string{"tenant-1"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	created := make(chan *domain.Message, 1)
	_, _ = eventBus.Subscribe(ctx, "tenant-1", domain.TopicSettlementCreated, func(ctx context.Context, msg *domain.Message) error {
		created <- msg
		return nil
	})

	payload, _ := json.Marshal(SettlementMessage{
		SectionID:  "luz",
		Level:      domain.LevelC1,
		BaseAmount: decimal.RequireFromString("1000"),
		TraceID:    "trace-w1",
	})
	if err := eventBus.Publish(ctx, "tenant-1", domain.TopicSettlementRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg := waitFor(t, created)

	var settlement domain.Settlement
	if err := json.Unmarshal(msg.Payload, &settlement); err != nil {
		t.Fatalf("failed to unmarshal settlement: %v", err)
	}
	if settlement.RuleID != rule.ID {
		t.Errorf("expected rule %s, got %s", rule.ID, settlement.RuleID)
	}
	if settlement.Breakdown.Final.StringFixed(2) != "100.00" {
		t.Errorf("expected final 100.00, got %s", settlement.Breakdown.Final)
	}
	if settlement.Metadata.TraceID != "trace-w1" {
		t.Errorf("trace id lost: %+v", settlement.Metadata)
	}

	// Persisted too
	got, err := store.GetSettlement(ctx, "tenant-1", settlement.ID)
	if err != nil {
		t.Fatalf("settlement not persisted: %v", err)
	}
	if !got.Breakdown.Final.Equal(settlement.Breakdown.Final) {
		t.Errorf("persisted breakdown mismatch: %v", got.Breakdown)
	}
}

func TestWorkerFlagsUnresolved(t *testing.T) {
	w, _, eventBus := newTestWorker(t)
	ctx := context.Background()

	if err := w.Start(Config{Tenants: []string{"tenant-1"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	unresolved := make(chan *domain.Message, 1)
	_, _ = eventBus.Subscribe(ctx, "tenant-1", domain.TopicSettlementUnresolved, func(ctx context.Context, msg *domain.Message) error {
		unresolved <- msg
		return nil
	})

	// No rules exist anywhere for this context
	payload, _ := json.Marshal(SettlementMessage{
		SectionID:  "luz",
		Level:      domain.LevelC3,
		BaseAmount: decimal.RequireFromString("500"),
	})
	if err := eventBus.Publish(ctx, "tenant-1", domain.TopicSettlementRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg := waitFor(t, unresolved)

	var flagged map[string]any
	if err := json.Unmarshal(msg.Payload, &flagged); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if flagged["sectionId"] != "luz" || flagged["level"] != "C3" {
		t.Errorf("unresolved flag missing context: %v", flagged)
	}
}

func TestWorkerStats(t *testing.T) {
	w, _, _ := newTestWorker(t)

	if err := w.Start(Config{Tenants: []string{"tenant-1", "tenant-2"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := w.GetStats()
	// Global scope plus two tenants
	if stats.SubscriptionCount != 3 {
		t.Errorf("expected 3 subscriptions, got %d", stats.SubscriptionCount)
	}
}
