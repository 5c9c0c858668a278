package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/impulso-energetico/comision/internal/calc"
	"github.com/impulso-energetico/comision/internal/domain"
	"github.com/impulso-energetico/comision/internal/rules"
	"github.com/shopspring/decimal"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store    domain.Store
	cache    domain.Cache
	bus      domain.EventBus
	resolver *rules.Resolver
	admin    *rules.Service
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(store domain.Store, cache domain.Cache, bus domain.EventBus, resolver *rules.Resolver, admin *rules.Service, version string) *Handler {
	return &Handler{
		store:    store,
		cache:    cache,
		bus:      bus,
		resolver: resolver,
		admin:    admin,
		version:  version,
	}
}

// ResolveRequest is the request body for POST /resolve.
type ResolveRequest struct {
	SectionID    string       `json:"sectionId"`
	SubSectionID string       `json:"subSectionId,omitempty"`
	Level        domain.Level `json:"level"`
}

// Resolve handles POST /resolve: it reports which rule would apply to the
// given commission context without computing anything.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := GetScope(ctx)

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.SectionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "sectionId is required",
		})
		return
	}
	if !req.Level.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "level must be one of C1, C2, C3, ESPECIAL",
		})
		return
	}

	res, err := h.resolver.Resolve(ctx, scope, req.SectionID, req.SubSectionID, req.Level)
	if err != nil {
		slog.Error("resolution failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "resolution failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// FiguresRequest carries the contract figures for a calculation.
type FiguresRequest struct {
	BaseAmount   decimal.Decimal  `json:"baseAmount"`
	MarginAmount *decimal.Decimal `json:"marginAmount,omitempty"`
	SpecialPlace bool             `json:"specialPlace,omitempty"`
}

// CalculateRequest is the request body for POST /calculate.
type CalculateRequest struct {
	RuleID string `json:"ruleId"`
	FiguresRequest
}

// Calculate handles POST /calculate: it applies a specific rule, bypassing
// resolution. Useful for previewing a rule's effect while editing it.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := GetScope(ctx)

	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.RuleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ruleId is required",
		})
		return
	}
	if req.BaseAmount.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "baseAmount must not be negative",
		})
		return
	}

	rule, err := h.admin.Get(ctx, scope, req.RuleID)
	if err != nil {
		writeError(w, err)
		return
	}

	breakdown, err := calc.Calculate(
		domain.Resolution{Resolved: true, Rule: rule, Source: "direct"},
		calc.Input{
			BaseAmount:   req.BaseAmount,
			MarginAmount: req.MarginAmount,
			SpecialPlace: req.SpecialPlace,
		},
	)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, breakdown)
}

// SettleRequest is the request body for POST /settlements.
type SettleRequest struct {
	SectionID    string       `json:"sectionId"`
	SubSectionID string       `json:"subSectionId,omitempty"`
	Level        domain.Level `json:"level"`
	FiguresRequest
}

// Settle handles POST /settlements: resolve, calculate, persist, publish.
// An unresolved context is a 422 with enough detail for an administrator
// to configure the missing rule; it never silently settles to zero.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	scope := GetScope(ctx)
	traceID := GetTraceID(ctx)

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.SectionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "sectionId is required",
		})
		return
	}
	if !req.Level.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "level must be one of C1, C2, C3, ESPECIAL",
		})
		return
	}
	if req.BaseAmount.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "baseAmount must not be negative",
		})
		return
	}

	res, err := h.resolver.Resolve(ctx, scope, req.SectionID, req.SubSectionID, req.Level)
	if err != nil {
		slog.Error("resolution failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "resolution failed",
		})
		return
	}
	resolveMs := time.Since(start).Milliseconds()

	if !res.Resolved {
		h.publishUnresolved(ctx, scope, &req, traceID)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":        "no commission rule configured for this context",
			"sectionId":    req.SectionID,
			"subSectionId": req.SubSectionID,
			"level":        req.Level,
		})
		return
	}

	breakdown, err := calc.Calculate(res, calc.Input{
		BaseAmount:   req.BaseAmount,
		MarginAmount: req.MarginAmount,
		SpecialPlace: req.SpecialPlace,
	})
	if err != nil {
		writeError(w, err)
		return
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
			Version:   h.version,
		},
		CreatedAt: time.Now().UTC(),
	}

	settlement.Metadata.DaySequence = h.nextDaySequence(ctx, scope)
	settlement.Metadata.TotalMs = time.Since(start).Milliseconds()

	if err := h.store.SaveSettlement(ctx, settlement); err != nil {
		slog.Error("failed to save settlement", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save settlement",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(settlement)
		if err := h.bus.Publish(ctx, scope.CacheKey(), domain.TopicSettlementCreated, payload); err != nil {
			slog.Warn("settlement event publish failed", "settlement_id", settlement.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, settlement)
}

// nextDaySequence numbers the settlement within the scope's UTC calendar
// day using the cache's windowed counter. Zero means numbering was
// unavailable; the settlement is still valid.
func (h *Handler) nextDaySequence(ctx context.Context, scope domain.TenantScope) int64 {
	if h.cache == nil {
		return 0
	}

	now := time.Now().UTC()
	day := now.Format("2006-01-02")
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)

	seq, err := h.cache.IncrementCounter(ctx, scope.CacheKey(), "settlements:"+day, midnight.Sub(now))
	if err != nil {
		slog.Warn("day sequence counter failed", "error", err)
		return 0
	}
	return seq
}

// publishUnresolved flags a settlement request with no configured rule.
func (h *Handler) publishUnresolved(ctx context.Context, scope domain.TenantScope, req *SettleRequest, traceID string) {
	if h.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"sectionId":    req.SectionID,
		"subSectionId": req.SubSectionID,
		"level":        req.Level,
		"traceId":      traceID,
	})
	if err := h.bus.Publish(ctx, scope.CacheKey(), domain.TopicSettlementUnresolved, payload); err != nil {
		slog.Warn("unresolved event publish failed", "error", err)
	}
}

// GetSettlement retrieves a settlement by ID.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := GetScope(ctx)
	id := chi.URLParam(r, "id")

	settlement, err := h.store.GetSettlement(ctx, scope, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settlement)
}

// ListRules returns the rules owned by the scope, inactive included.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := GetScope(ctx)

	filter := domain.RuleFilter{
		SectionID:    r.URL.Query().Get("sectionId"),
		SubSectionID: r.URL.Query().Get("subSectionId"),
	}

	ruleList, err := h.admin.List(ctx, scope, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

// GetRule retrieves a rule visible to the scope.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := GetScope(ctx)
	id := chi.URLParam(r, "id")

	rule, err := h.admin.Get(ctx, scope, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule creates a rule owned by the scope.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := GetScope(ctx)

	var req rules.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.admin.Create(ctx, scope, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule applies a partial update to a rule owned by the scope.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := GetScope(ctx)
	id := chi.URLParam(r, "id")

	var patch domain.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.admin.Update(ctx, scope, id, patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// SetRuleActiveRequest is the request body for POST /rules/{id}/active.
type SetRuleActiveRequest struct {
	Active bool `json:"active"`
}

// SetRuleActive toggles a rule's active flag.
func (h *Handler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := GetScope(ctx)
	id := chi.URLParam(r, "id")

	var req SetRuleActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.admin.SetActive(ctx, scope, id, req.Active)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// FillMissingRequest is the request body for POST /rules/fill-missing.
type FillMissingRequest struct {
	SectionID    string `json:"sectionId"`
	SubSectionID string `json:"subSectionId,omitempty"`
}

// FillMissing creates default rules for absent levels at a slot.
func (h *Handler) FillMissing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := GetScope(ctx)

	var req FillMissingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.SectionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "sectionId is required",
		})
		return
	}

	created, err := h.admin.FillMissing(ctx, scope, req.SectionID, req.SubSectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"created": created,
	})
}

// ListSections returns the catalog sections.
func (h *Handler) ListSections(w http.ResponseWriter, r *http.Request) {
	sections, err := h.store.ListSections(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sections": sections,
		"count":    len(sections),
	})
}

// SaveSection upserts a catalog section.
func (h *Handler) SaveSection(w http.ResponseWriter, r *http.Request) {
	var sec domain.Section
	if err := json.NewDecoder(r.Body).Decode(&sec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if sec.ID == "" || sec.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}

	if err := h.store.SaveSection(r.Context(), &sec); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sec)
}

// ListSubSections returns a section's subsections.
func (h *Handler) ListSubSections(w http.ResponseWriter, r *http.Request) {
	sectionID := chi.URLParam(r, "id")

	subs, err := h.store.ListSubSections(r.Context(), sectionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subSections": subs,
		"count":       len(subs),
	})
}

// SaveSubSection upserts a subsection under a section.
func (h *Handler) SaveSubSection(w http.ResponseWriter, r *http.Request) {
	sectionID := chi.URLParam(r, "id")

	var ss domain.SubSection
	if err := json.NewDecoder(r.Body).Decode(&ss); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	ss.SectionID = sectionID
	if ss.ID == "" || ss.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}

	if err := h.store.SaveSubSection(r.Context(), &ss); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ss)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrTenantNotResolved):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidRule):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateRule):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnresolvedRule):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
