// Package calc computes commission amounts from resolved rules.
package calc

import (
	"fmt"

	"github.com/impulso-energetico/comision/internal/domain"
	"github.com/shopspring/decimal"
)

// Input carries the contract figures a commission is computed from.
type Input struct {
	// BaseAmount is the contract base, must not be negative.
	BaseAmount decimal.Decimal

	// MarginAmount is the contract margin. Optional; margin-based rules
	// treat an absent margin as zero.
	MarginAmount *decimal.Decimal

	// SpecialPlace enables the special-place clamp pair.
	SpecialPlace bool
}

// Calculate applies the resolved rule's formula and clamp chain.
//
// The chain is ordered: the raw formula amount is clamped by the total
// bounds, the result by the agent bounds, and finally, special places
// only, by the special-place bounds. Each stage feeds the next, so a
// later clamp can widen or narrow what an earlier one produced.
// Intermediate values keep full precision; rounding to cents happens
// once, on the returned breakdown.
func Calculate(res domain.Resolution, in Input) (domain.Breakdown, error) {
	if !res.Resolved || res.Rule == nil {
		return domain.Breakdown{}, fmt.Errorf("%w: cannot calculate", domain.ErrUnresolvedRule)
	}

	rule := res.Rule
	raw := rawCommission(rule, in)

	total := clamp(raw, rule.MinTotal, rule.MaxTotal)
	agent := clamp(total, rule.MinAgent, rule.MaxAgent)

	final := agent
	if in.SpecialPlace {
		final = clamp(agent, rule.MinSpecialPlace, rule.MaxSpecialPlace)
	}

	return domain.Breakdown{
		Raw:   raw.Round(2),
		Total: total.Round(2),
		Agent: agent.Round(2),
		Final: final.Round(2),
	}, nil
}

// rawCommission evaluates the rule's formula. Validation guarantees the
// fields each type requires are present; missing optional inputs
// contribute zero rather than failing.
func rawCommission(rule *domain.CommissionRule, in Input) decimal.Decimal {
	switch rule.CalcType {
	case domain.CalcFixed:
		return deref(rule.FixedAmount)

	case domain.CalcPercentOfBase:
		return deref(rule.Percentage).Mul(in.BaseAmount)

	case domain.CalcPercentOfMargin:
		if in.MarginAmount == nil {
			return decimal.Zero
		}
		return deref(rule.Percentage).Mul(*in.MarginAmount)

	case domain.CalcMixed:
		return deref(rule.FixedAmount).Add(deref(rule.Percentage).Mul(in.BaseAmount))
	}
	return decimal.Zero
}

// clamp bounds v into [lo, hi]. Nil bounds do not constrain.
func clamp(v decimal.Decimal, lo, hi *decimal.Decimal) decimal.Decimal {
	if lo != nil && v.LessThan(*lo) {
		v = *lo
	}
	if hi != nil && v.GreaterThan(*hi) {
		v = *hi
	}
	return v
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
