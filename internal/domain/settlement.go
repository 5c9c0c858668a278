package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Breakdown is the commission calculation output: the raw formula result
// and the value after each clamp stage, rounded to 2 places at the edge.
type Breakdown struct {
	Raw   decimal.Decimal `json:"rawCommission"`
	Total decimal.Decimal `json:"totalCommission"`
	Agent decimal.Decimal `json:"agentCommission"`
	Final decimal.Decimal `json:"finalCommission"`
}

// Settlement is a persisted calculation: the resolved rule, the transaction
// figures it was applied to, and the resulting breakdown. The downstream
// commission ledger consumes these records; writing the ledger itself is
// out of scope.
type Settlement struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`

	RuleID       string `json:"ruleId"`
	SectionID    string `json:"sectionId"`
	SubSectionID string `json:"subSectionId,omitempty"`
	Level        Level  `json:"level"`

	BaseAmount   decimal.Decimal  `json:"baseAmount"`
	MarginAmount *decimal.Decimal `json:"marginAmount,omitempty"`
	SpecialPlace bool             `json:"specialPlace"`

	Breakdown Breakdown          `json:"breakdown"`
	Metadata  SettlementMetadata `json:"metadata"`

	CreatedAt time.Time `json:"createdAt"`
}

// SettlementMetadata carries processing information for audit.
type SettlementMetadata struct {
	TraceID string `json:"traceId,omitempty"`

	// Source is the resolution step that supplied the rule.
	Source string `json:"source,omitempty"`

	// DaySequence numbers the settlement within the tenant's calendar day.
	DaySequence int64 `json:"daySequence,omitempty"`

	ResolveMs int64  `json:"resolveMs"`
	TotalMs   int64  `json:"totalMs"`
	Version   string `json:"version,omitempty"`
}
