package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Denial reasons.
const (
	ReasonPassed        = "risk checks passed"
	ReasonBelowMinimum  = "order size below minimum"
	ReasonAboveMaximum  = "order size above maximum"
	ReasonMaxPosition   = "exceeds max position"
	ReasonDailyCap      = "daily order limit reached"
	ReasonCooldown      = "cooldown active"
	ReasonNonPositive   = "order size must be positive"
	ReasonLedgerFailure = "position ledger unavailable"
)

// Proposal is everything a check may look at. It is gathered once per
// evaluation so checks stay pure.
type Proposal struct {
	Symbol   string
	Cost     decimal.Decimal
	Exposure decimal.Decimal

	MinOrder    decimal.Decimal
	MaxOrder    decimal.Decimal
	MaxPosition decimal.Decimal

	TradesToday    int64
	MaxDailyOrders int
	LastTrade      time.Time
	Cooldown       time.Duration
	Now            time.Time
}

// Check returns false and a reason to deny the proposal.
type Check func(p Proposal) (bool, string)

// OrderSizeCheck keeps the cost within [MinOrder, MaxOrder].
func OrderSizeCheck(p Proposal) (bool, string) {
	if !p.Cost.IsPositive() {
		return false, ReasonNonPositive
	}
	if p.Cost.LessThan(p.MinOrder) {
		return false, ReasonBelowMinimum
	}
	if p.MaxOrder.IsPositive() && p.Cost.GreaterThan(p.MaxOrder) {
		return false, ReasonAboveMaximum
	}
	return true, ""
}

// MaxPositionCheck denies when exposure + cost would exceed MaxPosition.
func MaxPositionCheck(p Proposal) (bool, string) {
	if p.Exposure.Add(p.Cost).GreaterThan(p.MaxPosition) {
		return false, ReasonMaxPosition
	}
	return true, ""
}

// DailyOrderCapCheck limits the number of trades per UTC day.
func DailyOrderCapCheck(p Proposal) (bool, string) {
	if p.MaxDailyOrders > 0 && p.TradesToday >= int64(p.MaxDailyOrders) {
		return false, ReasonDailyCap
	}
	return true, ""
}

// CooldownCheck enforces a minimum gap since the previous trade.
func CooldownCheck(p Proposal) (bool, string) {
	if p.Cooldown > 0 && !p.LastTrade.IsZero() && p.Now.Sub(p.LastTrade) < p.Cooldown {
		return false, ReasonCooldown
	}
	return true, ""
}

// DefaultChecks is the evaluation order used by NewGate.
func DefaultChecks() []Check {
	return []Check{OrderSizeCheck, MaxPositionCheck, DailyOrderCapCheck, CooldownCheck}
}

// Utilization returns exposure / maxPosition as a percentage. Zero when no
// limit is configured.
func Utilization(exposure, maxPosition decimal.Decimal) decimal.Decimal {
	if !maxPosition.IsPositive() {
		return decimal.Zero
	}
	return exposure.Div(maxPosition).Mul(decimal.NewFromInt(100)).Round(2)
}

// Capacity returns how much quote currency can still be added before the
// position limit is reached.
func Capacity(exposure, maxPosition decimal.Decimal) decimal.Decimal {
	return decimal.Max(maxPosition.Sub(exposure), decimal.Zero)
}
