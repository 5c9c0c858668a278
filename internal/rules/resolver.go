// Package rules implements commission rule resolution and administration.
package rules

import (
	"context"
	"errors"
	"time"

	"github.com/impulso-energetico/comision/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("comision-rules")

// Resolution source labels, ordered from most to least specific.
const (
	SourceTenant        = "tenant"
	SourceTenantGeneral = "tenant-general"
	SourceGlobal        = "global"
	SourceGlobalGeneral = "global-general"
)

// Resolver walks the precedence chain to find the applicable rule for a
// commission context. Each step is an exact active-rule lookup; the first
// hit wins and later steps are never consulted.
type Resolver struct {
	store domain.Store
	cache domain.Cache // optional, nil disables caching
	ttl   time.Duration
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(store domain.Store, cache domain.Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Resolver{
		store: store,
		cache: cache,
		ttl:   ttl,
	}
}

type step struct {
	source       string
	tenantID     string
	subSectionID string
}

// Resolve finds the applicable rule for (scope, section, subsection, level).
//
// Precedence: tenant-exact, tenant-general, global-exact, global-general.
// A subsection-specific rule of the tenant beats the tenant's general rule;
// any tenant rule beats any global rule. When the scope is global only the
// global steps apply. Resolved=false means no rule is configured anywhere
// in the chain; callers must surface that, never default to zero.
func (r *Resolver) Resolve(ctx context.Context, scope domain.TenantScope, sectionID, subSectionID string, level domain.Level) (domain.Resolution, error) {
	ctx, span := tracer.Start(ctx, "rules.Resolve",
		trace.WithAttributes(
			attribute.String("scope", scope.CacheKey()),
			attribute.String("section_id", sectionID),
			attribute.String("sub_section_id", subSectionID),
			attribute.String("level", string(level)),
		),
	)
	defer span.End()

	var steps []step
	tenantID := string(scope)

	if !scope.Global() {
		if subSectionID != "" {
			steps = append(steps, step{SourceTenant, tenantID, subSectionID})
		}
		steps = append(steps, step{SourceTenantGeneral, tenantID, ""})
	}
	if subSectionID != "" {
		steps = append(steps, step{SourceGlobal, "", subSectionID})
	}
	steps = append(steps, step{SourceGlobalGeneral, "", ""})

	for _, st := range steps {
		rule, err := r.lookup(ctx, st.tenantID, sectionID, st.subSectionID, level)
		if err != nil {
			return domain.Resolution{}, err
		}
		if rule != nil {
			span.SetAttributes(attribute.String("resolution.source", st.source))
			return domain.Resolution{Resolved: true, Rule: rule, Source: st.source}, nil
		}
	}

	span.SetAttributes(attribute.Bool("resolution.unresolved", true))
	return domain.Resolution{Resolved: false}, nil
}

// lookup performs a single exact identity lookup, cache first. Positive
// hits are cached under the owning scope's namespace so invalidation on
// mutation touches one entry regardless of who resolves through it.
// Misses are not cached: a freshly created rule must win immediately.
func (r *Resolver) lookup(ctx context.Context, tenantID, sectionID, subSectionID string, level domain.Level) (*domain.CommissionRule, error) {
	key := domain.RuleKey(tenantID, sectionID, subSectionID, level)
	ns := cacheScope(tenantID)

	if r.cache != nil {
		if rule, err := r.cache.GetRule(ctx, ns, key); err == nil && rule != nil {
			return rule, nil
		}
	}

	rule, err := r.store.FindRule(ctx, tenantID, sectionID, subSectionID, level)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = r.cache.SetRule(ctx, ns, key, rule, r.ttl)
	}
	return rule, nil
}

func cacheScope(tenantID string) string {
	if tenantID == "" {
		return "*"
	}
	return tenantID
}
