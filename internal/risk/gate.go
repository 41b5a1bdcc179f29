package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/infra"

	"github.com/shopspring/decimal"
)

// Ledger is the read side of the position store the gate needs.
type Ledger interface {
	GetExposure(ctx context.Context, symbol string) (decimal.Decimal, error)
	TradeStats(ctx context.Context, symbol string, since time.Time) (int64, time.Time, error)
}

// Gate evaluates proposed orders against configured bounds and the current
// exposure. Checks run in order and the first denial wins.
type Gate struct {
	cfg    infra.TradingConfig
	ledger Ledger
	checks []Check
	now    func() time.Time
	logger *slog.Logger
}

// NewGate creates a Gate running DefaultChecks.
func NewGate(cfg infra.TradingConfig, ledger Ledger) *Gate {
	return &Gate{
		cfg:    cfg,
		ledger: ledger,
		checks: DefaultChecks(),
		now:    time.Now,
		logger: slog.Default().With(slog.String("module", "risk")),
	}
}

// WithChecks appends further checks after the defaults. They can only deny.
func (g *Gate) WithChecks(checks ...Check) *Gate {
	g.checks = append(g.checks, checks...)
	return g
}

// WithClock overrides the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Proposal gathers the inputs of every check for symbol and cost.
func (g *Gate) Proposal(ctx context.Context, symbol string, cost decimal.Decimal) (Proposal, error) {
	now := g.now().UTC()
	exposure, err := g.ledger.GetExposure(ctx, symbol)
	if err != nil {
		return Proposal{}, fmt.Errorf("read exposure: %w", err)
	}

	startOfDay := now.Truncate(24 * time.Hour)
	today, last, err := g.ledger.TradeStats(ctx, symbol, startOfDay)
	if err != nil {
		return Proposal{}, fmt.Errorf("read trade stats: %w", err)
	}

	return Proposal{
		Symbol:         symbol,
		Cost:           cost,
		Exposure:       exposure,
		MinOrder:       g.cfg.MinOrderQuote,
		MaxOrder:       g.cfg.MaxOrderQuote,
		MaxPosition:    g.cfg.MaxPositionFor(symbol),
		TradesToday:    today,
		MaxDailyOrders: g.cfg.MaxDailyOrders,
		LastTrade:      last,
		Cooldown:       g.cfg.Cooldown,
		Now:            now,
	}, nil
}

// Decide runs the check chain on a prepared proposal.
func (g *Gate) Decide(p Proposal) domain.RiskDecision {
	decision := domain.RiskDecision{
		Allowed:          true,
		Reason:           ReasonPassed,
		ObservedExposure: p.Exposure,
		ProposedExposure: p.Exposure.Add(p.Cost),
	}
	for _, check := range g.checks {
		if ok, reason := check(p); !ok {
			decision.Allowed = false
			decision.Reason = reason
			return decision
		}
	}
	return decision
}

// Evaluate reads the ledger and decides. An error means the ledger could not
// be read; the decision is then a denial so a caller that ignores the error
// still places nothing.
func (g *Gate) Evaluate(ctx context.Context, symbol string, cost decimal.Decimal) (domain.RiskDecision, error) {
	p, err := g.Proposal(ctx, symbol, cost)
	if err != nil {
		return domain.RiskDecision{Allowed: false, Reason: ReasonLedgerFailure}, err
	}

	decision := g.Decide(p)
	g.logger.Debug("risk evaluated",
		slog.String("symbol", symbol),
		slog.String("cost", cost.String()),
		slog.String("exposure", p.Exposure.String()),
		slog.Bool("allowed", decision.Allowed),
		slog.String("reason", decision.Reason))
	return decision, nil
}
