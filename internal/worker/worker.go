// Package worker provides async settlement processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/impulso-energetico/comision/internal/calc"
	"github.com/impulso-energetico/comision/internal/domain"
	"github.com/impulso-energetico/comision/internal/rules"
	"github.com/shopspring/decimal"
)

// Worker processes settlement requests asynchronously from the EventBus.
// CRM backends that batch contract activations publish to the requested
// topic instead of calling POST /settlements synchronously.
type Worker struct {
	bus      domain.EventBus
	store    domain.Store
	resolver *rules.Resolver
	version  string

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Tenants is the list of tenant scopes to process. The global scope
	// is always subscribed in addition.
	Tenants []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, store domain.Store, resolver *rules.Resolver, version string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		store:    store,
		resolver: resolver,
		version:  version,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing settlement requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	scopes := append([]string{"*"}, cfg.Tenants...)

	for _, scope := range scopes {
		if err := w.subscribe(scope); err != nil {
			slog.Error("failed to start worker for scope",
				"scope", scope,
				"error", err,
			)
			continue
		}
	}

	slog.Info("settlement workers started",
		"scope_count", len(scopes),
	)

	return nil
}

func (w *Worker) subscribe(scope string) error {
	sub, err := w.bus.Subscribe(w.ctx, scope, domain.TopicSettlementRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("settlement worker started",
		"scope", scope,
		"topic", domain.TopicSettlementRequested,
	)

	return nil
}

// SettlementMessage is the payload published on TopicSettlementRequested.
type SettlementMessage struct {
	TenantID     string           `json:"tenantId,omitempty"`
	SectionID    string           `json:"sectionId"`
	SubSectionID string           `json:"subSectionId,omitempty"`
	Level        domain.Level     `json:"level"`
	BaseAmount   decimal.Decimal  `json:"baseAmount"`
	MarginAmount *decimal.Decimal `json:"marginAmount,omitempty"`
	SpecialPlace bool             `json:"specialPlace,omitempty"`
	TraceID      string           `json:"traceId,omitempty"`
}

// processRequest resolves and settles one request. Unresolved contexts are
// flagged on the unresolved topic for administrator attention and are not
// retried; malformed payloads are dropped.
func (w *Worker) processRequest(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req SettlementMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse settlement message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	scope := domain.TenantScope(req.TenantID)
	if req.TenantID == "" && msg.Scope != "*" {
		scope = domain.TenantScope(msg.Scope)
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	if !req.Level.Valid() || req.SectionID == "" || req.BaseAmount.IsNegative() {
		slog.Error("invalid settlement request",
			"message_id", msg.ID,
			"section_id", req.SectionID,
			"level", req.Level,
		)
		return nil
	}

	res, err := w.resolver.Resolve(ctx, scope, req.SectionID, req.SubSectionID, req.Level)
	if err != nil {
		slog.Error("resolution failed",
			"trace_id", traceID,
			"error", err,
		)
		return err
	}
	resolveMs := time.Since(start).Milliseconds()

	if !res.Resolved {
		slog.Warn("settlement request unresolved",
			"scope", scope.CacheKey(),
			"section_id", req.SectionID,
			"sub_section_id", req.SubSectionID,
			"level", req.Level,
			"trace_id", traceID,
		)
		payload, _ := json.Marshal(map[string]any{
			"sectionId":    req.SectionID,
			"subSectionId": req.SubSectionID,
			"level":        req.Level,
			"traceId":      traceID,
		})
		if err := w.bus.Publish(ctx, scope.CacheKey(), domain.TopicSettlementUnresolved, payload); err != nil {
			slog.Error("failed to publish unresolved event",
				"trace_id", traceID,
				"error", err,
			)
		}
		return nil
	}

	breakdown, err := calc.Calculate(res, calc.Input{
		BaseAmount:   req.BaseAmount,
		MarginAmount: req.MarginAmount,
		SpecialPlace: req.SpecialPlace,
	})
	if err != nil {
		slog.Error("calculation failed",
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	settlement := &domain.Settlement{
		ID:           uuid.New().String(),
		TenantID:     string(scope),
		RuleID:       res.Rule.ID,
		SectionID:    req.SectionID,
		SubSectionID: req.SubSectionID,
		Level:        req.Level,
		BaseAmount:   req.BaseAmount,
		MarginAmount: req.MarginAmount,
		SpecialPlace: req.SpecialPlace,
		Breakdown:    breakdown,
		Metadata: domain.SettlementMetadata{
			TraceID:   traceID,
			Source:    res.Source,
			ResolveMs: resolveMs,
			TotalMs:   time.Since(start).Milliseconds(),
			Version:   w.version,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := w.store.SaveSettlement(ctx, settlement); err != nil {
		slog.Error("failed to save settlement",
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	resultPayload, _ := json.Marshal(settlement)
	if err := w.bus.Publish(ctx, scope.CacheKey(), domain.TopicSettlementCreated, resultPayload); err != nil {
		slog.Error("failed to publish settlement",
			"settlement_id", settlement.ID,
			"error", err,
		)
	}

	slog.Info("settlement processed",
		"settlement_id", settlement.ID,
		"scope", scope.CacheKey(),
		"source", res.Source,
		"final", settlement.Breakdown.Final.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("settlement workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
