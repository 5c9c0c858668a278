// Package domain defines the core types and interfaces for the commission engine.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level is the commission tier assigned to an agent or place.
type Level string

const (
	LevelC1       Level = "C1"
	LevelC2       Level = "C2"
	LevelC3       Level = "C3"
	LevelEspecial Level = "ESPECIAL"
)

// Levels lists every commission level in a stable order.
var Levels = []Level{LevelC1, LevelC2, LevelC3, LevelEspecial}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelC1, LevelC2, LevelC3, LevelEspecial:
		return true
	}
	return false
}

// CalcType selects the formula used to compute the raw commission.
type CalcType string

const (
	CalcFixed           CalcType = "FIXED"
	CalcPercentOfBase   CalcType = "PERCENT_OF_BASE"
	CalcPercentOfMargin CalcType = "PERCENT_OF_MARGIN"
	CalcMixed           CalcType = "MIXED"
)

// Valid reports whether t is a known calculation type.
func (t CalcType) Valid() bool {
	switch t {
	case CalcFixed, CalcPercentOfBase, CalcPercentOfMargin, CalcMixed:
		return true
	}
	return false
}

// RequiresFixed reports whether rules of this type must carry a fixed amount.
func (t CalcType) RequiresFixed() bool {
	return t == CalcFixed || t == CalcMixed
}

// RequiresPercentage reports whether rules of this type must carry a percentage.
func (t CalcType) RequiresPercentage() bool {
	return t == CalcPercentOfBase || t == CalcPercentOfMargin || t == CalcMixed
}

// CommissionRule is the central entity of the engine: a calculation formula
// plus independent clamp bounds, addressed by the composite identity
// (tenant-or-global, section, subsection-or-general, level).
//
// Percentage is always a fraction (0.15 means 15%). Whole-percent input is
// an entry-form concern and must be normalized before reaching the engine.
type CommissionRule struct {
	ID string `json:"id"`

	// TenantID of the owning tenant. Empty means a global rule shared by
	// every tenant that does not override it.
	TenantID string `json:"tenantId,omitempty"`

	SectionID string `json:"sectionId"`

	// SubSectionID addresses a direct subsection of SectionID. Empty means
	// this is the section's general (fallback) rule.
	SubSectionID string `json:"subSectionId,omitempty"`

	Level    Level    `json:"level"`
	CalcType CalcType `json:"calcType"`

	FixedAmount *decimal.Decimal `json:"fixedAmount,omitempty"`
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`

	// Bounds on the overall commission before the payee split.
	MinTotal *decimal.Decimal `json:"minTotal,omitempty"`
	MaxTotal *decimal.Decimal `json:"maxTotal,omitempty"`

	// Bounds on the agent portion.
	MinAgent *decimal.Decimal `json:"minAgent,omitempty"`
	MaxAgent *decimal.Decimal `json:"maxAgent,omitempty"`

	// Bounds applied only when the originating place is flagged special.
	MinSpecialPlace *decimal.Decimal `json:"minSpecialPlace,omitempty"`
	MaxSpecialPlace *decimal.Decimal `json:"maxSpecialPlace,omitempty"`

	// Inactive rules are never selected during resolution but remain
	// visible and editable. Deactivation is the only removal mechanism.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RuleKey builds the composite identity key used for cache addressing.
// Global rules use "*" as their scope segment.
func RuleKey(tenantID, sectionID, subSectionID string, level Level) string {
	scope := tenantID
	if scope == "" {
		scope = "*"
	}
	return scope + "/" + sectionID + "/" + subSectionID + "/" + string(level)
}

// IdentityKey returns the rule's composite identity key.
func (r *CommissionRule) IdentityKey() string {
	return RuleKey(r.TenantID, r.SectionID, r.SubSectionID, r.Level)
}

// Validate checks every data-model invariant except composite-key
// uniqueness and subsection referential integrity, which require the store.
func (r *CommissionRule) Validate() error {
	if r.SectionID == "" {
		return fmt.Errorf("%w: sectionId is required", ErrInvalidRule)
	}
	if !r.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidRule, r.Level)
	}
	if !r.CalcType.Valid() {
		return fmt.Errorf("%w: unknown calcType %q", ErrInvalidRule, r.CalcType)
	}
	if r.CalcType.RequiresFixed() && r.FixedAmount == nil {
		return fmt.Errorf("%w: %s rules require fixedAmount", ErrInvalidRule, r.CalcType)
	}
	if r.CalcType.RequiresPercentage() && r.Percentage == nil {
		return fmt.Errorf("%w: %s rules require percentage", ErrInvalidRule, r.CalcType)
	}
	if r.FixedAmount != nil && r.FixedAmount.IsNegative() {
		return fmt.Errorf("%w: fixedAmount must not be negative", ErrInvalidRule)
	}
	if r.Percentage != nil {
		if r.Percentage.IsNegative() || r.Percentage.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: percentage must be a fraction between 0 and 1", ErrInvalidRule)
		}
	}
	pairs := []struct {
		name     string
		min, max *decimal.Decimal
	}{
		{"total", r.MinTotal, r.MaxTotal},
		{"agent", r.MinAgent, r.MaxAgent},
		{"specialPlace", r.MinSpecialPlace, r.MaxSpecialPlace},
	}
	for _, p := range pairs {
		if p.min != nil && p.max != nil && p.min.GreaterThan(*p.max) {
			return fmt.Errorf("%w: %s bounds inverted (min > max)", ErrInvalidRule, p.name)
		}
	}
	return nil
}

// Resolution is the outcome of the precedence search. Resolved=false is the
// "commission not configured" sentinel: a legitimate outcome, not an error,
// but calculation against it must fail rather than default to zero.
type Resolution struct {
	Resolved bool            `json:"resolved"`
	Rule     *CommissionRule `json:"rule,omitempty"`

	// Source names the precedence step that produced the rule:
	// "tenant", "tenant-general", "global", or "global-general".
	Source string `json:"source,omitempty"`
}

// NullableDecimal is a patch field that distinguishes an absent key
// (leave unchanged) from an explicit null (clear the stored value).
type NullableDecimal struct {
	Set   bool
	Value *decimal.Decimal
}

// UnmarshalJSON marks the field as set; a JSON null clears the value.
func (n *NullableDecimal) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	n.Value = &d
	return nil
}

// RulePatch is a partial update of a rule's mutable fields. The composite
// identity (tenant, section, subsection, level) is immutable: changing it
// would create a different rule, so those fields are absent here.
type RulePatch struct {
	CalcType        *CalcType       `json:"calcType,omitempty"`
	FixedAmount     NullableDecimal `json:"fixedAmount"`
	Percentage      NullableDecimal `json:"percentage"`
	MinTotal        NullableDecimal `json:"minTotal"`
	MaxTotal        NullableDecimal `json:"maxTotal"`
	MinAgent        NullableDecimal `json:"minAgent"`
	MaxAgent        NullableDecimal `json:"maxAgent"`
	MinSpecialPlace NullableDecimal `json:"minSpecialPlace"`
	MaxSpecialPlace NullableDecimal `json:"maxSpecialPlace"`
	Active          *bool           `json:"active,omitempty"`
}

// Apply merges the patch onto a copy of the rule. The result must be
// re-validated before persisting.
func (p *RulePatch) Apply(r CommissionRule) CommissionRule {
	if p.CalcType != nil {
		r.CalcType = *p.CalcType
	}
	if p.FixedAmount.Set {
		r.FixedAmount = p.FixedAmount.Value
	}
	if p.Percentage.Set {
		r.Percentage = p.Percentage.Value
	}
	if p.MinTotal.Set {
		r.MinTotal = p.MinTotal.Value
	}
	if p.MaxTotal.Set {
		r.MaxTotal = p.MaxTotal.Value
	}
	if p.MinAgent.Set {
		r.MinAgent = p.MinAgent.Value
	}
	if p.MaxAgent.Set {
		r.MaxAgent = p.MaxAgent.Value
	}
	if p.MinSpecialPlace.Set {
		r.MinSpecialPlace = p.MinSpecialPlace.Value
	}
	if p.MaxSpecialPlace.Set {
		r.MaxSpecialPlace = p.MaxSpecialPlace.Value
	}
	if p.Active != nil {
		r.Active = *p.Active
	}
	return r
}

// RuleFilter narrows ListRules results. Zero values mean no filtering.
type RuleFilter struct {
	SectionID    string
	SubSectionID string
}
