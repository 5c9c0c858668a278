package rules

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/impulso-energetico/comision/internal/domain"
	"github.com/shopspring/decimal"
)

// Service administers commission rules on behalf of a resolved scope.
// Tenant-scoped callers can read global rules but mutate only their own;
// the global scope mutates only global rules.
type Service struct {
	store domain.Store
	cache domain.Cache    // optional, nil disables invalidation
	bus   domain.EventBus // optional, nil disables events
}

// NewService creates a rule administration service. cache and bus may be nil.
func NewService(store domain.Store, cache domain.Cache, bus domain.EventBus) *Service {
	return &Service{
		store: store,
		cache: cache,
		bus:   bus,
	}
}

// CreateInput is the payload for rule creation. The owning tenant comes
// from the resolved scope, never from the payload.
type CreateInput struct {
	SectionID       string           `json:"sectionId"`
	SubSectionID    string           `json:"subSectionId,omitempty"`
	Level           domain.Level     `json:"level"`
	CalcType        domain.CalcType  `json:"calcType"`
	FixedAmount     *decimal.Decimal `json:"fixedAmount,omitempty"`
	Percentage      *decimal.Decimal `json:"percentage,omitempty"`
	MinTotal        *decimal.Decimal `json:"minTotal,omitempty"`
	MaxTotal        *decimal.Decimal `json:"maxTotal,omitempty"`
	MinAgent        *decimal.Decimal `json:"minAgent,omitempty"`
	MaxAgent        *decimal.Decimal `json:"maxAgent,omitempty"`
	MinSpecialPlace *decimal.Decimal `json:"minSpecialPlace,omitempty"`
	MaxSpecialPlace *decimal.Decimal `json:"maxSpecialPlace,omitempty"`
	Active          *bool            `json:"active,omitempty"`
}

// Create adds a rule owned by the scope.
func (s *Service) Create(ctx context.Context, scope domain.TenantScope, in CreateInput) (*domain.CommissionRule, error) {
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	rule := &domain.CommissionRule{
		ID:              uuid.New().String(),
		TenantID:        string(scope),
		SectionID:       in.SectionID,
		SubSectionID:    in.SubSectionID,
		Level:           in.Level,
		CalcType:        in.CalcType,
		FixedAmount:     in.FixedAmount,
		Percentage:      in.Percentage,
		MinTotal:        in.MinTotal,
		MaxTotal:        in.MaxTotal,
		MinAgent:        in.MinAgent,
		MaxAgent:        in.MaxAgent,
		MinSpecialPlace: in.MinSpecialPlace,
		MaxSpecialPlace: in.MaxSpecialPlace,
		Active:          active,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.afterMutation(ctx, rule, "created")
	return rule, nil
}

// Update applies a partial update to a rule owned by the scope.
func (s *Service) Update(ctx context.Context, scope domain.TenantScope, id string, patch domain.RulePatch) (*domain.CommissionRule, error) {
	if err := s.checkOwnership(ctx, scope, id); err != nil {
		return nil, err
	}

	rule, err := s.store.UpdateRule(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, rule, "updated")
	return rule, nil
}

// SetActive activates or deactivates a rule owned by the scope.
// Deactivation is the only removal mechanism; rows are never deleted.
func (s *Service) SetActive(ctx context.Context, scope domain.TenantScope, id string, active bool) (*domain.CommissionRule, error) {
	if err := s.checkOwnership(ctx, scope, id); err != nil {
		return nil, err
	}

	rule, err := s.store.SetRuleActive(ctx, id, active)
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, rule, "toggled")
	return rule, nil
}

// Get retrieves a rule visible to the scope: its own rules plus global ones.
func (s *Service) Get(ctx context.Context, scope domain.TenantScope, id string) (*domain.CommissionRule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.TenantID != string(scope) && rule.TenantID != "" {
		// Foreign tenant rules are indistinguishable from absent ones
		return nil, domain.ErrNotFound
	}
	return rule, nil
}

// List returns the rules owned by the scope, inactive included.
func (s *Service) List(ctx context.Context, scope domain.TenantScope, filter domain.RuleFilter) ([]*domain.CommissionRule, error) {
	return s.store.ListRules(ctx, scope, filter)
}

// FillMissing creates default rules for every level absent at the given
// (section, subsection) slot in the scope. Defaults are active
// PERCENT_OF_BASE rules with a zero percentage, meant to be edited
// afterwards. Idempotent: existing levels are skipped, and the returned
// count is the number actually created.
func (s *Service) FillMissing(ctx context.Context, scope domain.TenantScope, sectionID, subSectionID string) (int, error) {
	zero := decimal.Zero
	created := 0

	for _, level := range domain.Levels {
		rule := &domain.CommissionRule{
			ID:           uuid.New().String(),
			TenantID:     string(scope),
			SectionID:    sectionID,
			SubSectionID: subSectionID,
			Level:        level,
			CalcType:     domain.CalcPercentOfBase,
			Percentage:   &zero,
			Active:       true,
			CreatedAt:    time.Now().UTC(),
		}

		err := s.store.CreateRule(ctx, rule)
		if errors.Is(err, domain.ErrDuplicateRule) {
			continue
		}
		if err != nil {
			return created, err
		}

		s.afterMutation(ctx, rule, "created")
		created++
	}

	return created, nil
}

// checkOwnership verifies the rule exists and belongs to the scope.
// Rules owned by other tenants, and global rules seen from a tenant
// scope, report ErrNotFound rather than a permission error.
func (s *Service) checkOwnership(ctx context.Context, scope domain.TenantScope, id string) error {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if rule.TenantID != string(scope) {
		return domain.ErrNotFound
	}
	return nil
}

// afterMutation invalidates the cached lookup for the rule's identity and
// publishes a rule-changed event. Both are best-effort.
func (s *Service) afterMutation(ctx context.Context, rule *domain.CommissionRule, action string) {
	ns := cacheScope(rule.TenantID)
	key := rule.IdentityKey()

	if s.cache != nil {
		if err := s.cache.Delete(ctx, ns, "rule:"+key); err != nil {
			slog.Warn("rule cache invalidation failed",
				"rule_id", rule.ID,
				"key", key,
				"error", err,
			)
		}
	}

	if s.bus != nil {
		event := domain.RuleChangedEvent{
			Action:       action,
			RuleID:       rule.ID,
			TenantID:     rule.TenantID,
			SectionID:    rule.SectionID,
			SubSectionID: rule.SubSectionID,
			Level:        rule.Level,
			Active:       rule.Active,
		}
		payload, _ := json.Marshal(event)
		if err := s.bus.Publish(ctx, ns, domain.TopicRuleChanged, payload); err != nil {
			slog.Warn("rule event publish failed",
				"rule_id", rule.ID,
				"action", action,
				"error", err,
			)
		}
	}
}
