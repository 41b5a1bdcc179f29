package engine

import (
	"time"

	"qrl_trader/internal/domain"
)

// State is the position of one symbol's cycle in the state machine.
type State string

const (
	StateIdle         State = "IDLE"
	StateReconciling  State = "RECONCILING"
	StateFetching     State = "FETCHING"
	StateDeciding     State = "DECIDING"
	StateRiskChecking State = "RISK_CHECKING"
	StatePlacing      State = "PLACING"
	StateRecording    State = "RECORDING"
)

// Result is the single outcome of a cycle. No error escapes a cycle; Err
// carries the cause of a Failed or NeedsReconciliation outcome.
type Result struct {
	Symbol        string               `json:"symbol"`
	Outcome       domain.Outcome       `json:"outcome"`
	Reason        string               `json:"reason"`
	OrderID       string               `json:"order_id,omitempty"`
	ClientOrderID string               `json:"client_order_id,omitempty"`
	Signal        *domain.Signal       `json:"signal,omitempty"`
	Decision      *domain.RiskDecision `json:"decision,omitempty"`
	Err           error                `json:"-"`

	// Shared is set when this result was delivered to more than one
	// concurrent caller of the same symbol.
	Shared bool `json:"shared,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Elapsed returns the wall time of the cycle.
func (r Result) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// run converts a result into its persisted form.
func (r Result) run() *domain.CycleRun {
	reason := r.Reason
	if r.Err != nil && reason == "" {
		reason = r.Err.Error()
	}
	return &domain.CycleRun{
		Symbol:        r.Symbol,
		Outcome:       r.Outcome.String(),
		Reason:        reason,
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}
