package domain

import "github.com/shopspring/decimal"

// RiskDecision is the verdict on one proposed order. Produced per cycle, never persisted.
type RiskDecision struct {
	Allowed          bool            `json:"allowed"`
	Reason           string          `json:"reason"`
	ObservedExposure decimal.Decimal `json:"observed_exposure"`
	ProposedExposure decimal.Decimal `json:"proposed_exposure"`
}

// Signal is the output of a strategy for one set of candles.
type Signal struct {
	Buy      bool              `json:"buy"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Outcome is the single result kind of a trading cycle.
type Outcome string

const (
	OutcomePlaced              Outcome = "PLACED"
	OutcomeDenied              Outcome = "DENIED"
	OutcomeNoSignal            Outcome = "NO_SIGNAL"
	OutcomeFailed              Outcome = "FAILED"
	OutcomeNeedsReconciliation Outcome = "NEEDS_RECONCILIATION"
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	return string(o)
}
