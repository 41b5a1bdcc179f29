package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/gateway"
	"qrl_trader/internal/infra"
	"qrl_trader/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// MarketGateway is the part of the exchange gateway a cycle uses.
type MarketGateway interface {
	FetchCandles(ctx context.Context, symbol string, p gateway.CandleParams, useCache bool) (domain.MarketSnapshot, error)
	FetchTicker(ctx context.Context, symbol string, useCache bool) (domain.Ticker, error)
	FetchBalance(ctx context.Context, useCache bool) (domain.AccountBalance, error)
	PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error)
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (domain.OrderAck, bool, error)
	Invalidate(ctx context.Context, symbol string) int
}

// PositionStore is the write side of the position ledger.
type PositionStore interface {
	RecordFill(ctx context.Context, f domain.Fill) (domain.TradeRecord, error)
	SavePending(ctx context.Context, p domain.PendingOrder) error
	ListPending(ctx context.Context, symbol string) ([]domain.PendingOrder, error)
	DeletePending(ctx context.Context, clientOrderID string) error
	SaveCycleRun(ctx context.Context, run *domain.CycleRun) error
}

// RiskEvaluator approves or denies a proposed order cost.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, symbol string, cost decimal.Decimal) (domain.RiskDecision, error)
}

// writeTimeout bounds the writes that run detached from the cycle context.
const writeTimeout = 5 * time.Second

// detached returns a context for writes that must land once an order may
// have reached the exchange, even when the cycle is being cancelled.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

// Options carries the optional collaborators of an Orchestrator.
type Options struct {
	Metrics *infra.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
	// NewClientOrderID generates order ids; a dashless UUID by default.
	NewClientOrderID func() string
}

// Orchestrator drives trading cycles: reconcile, fetch, decide, risk-check,
// place, record. Each invocation places at most one order.
type Orchestrator struct {
	cfg      infra.TradingConfig
	gw       MarketGateway
	store    PositionStore
	risk     RiskEvaluator
	strategy strategy.Strategy

	flight  singleflight.Group
	metrics *infra.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu     sync.RWMutex // guards states, read externally
	states map[string]State
}

// NewOrchestrator wires a cycle runner.
func NewOrchestrator(cfg infra.TradingConfig, gw MarketGateway, store PositionStore, risk RiskEvaluator, strat strategy.Strategy, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewClientOrderID == nil {
		opts.NewClientOrderID = func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}
	return &Orchestrator{
		cfg:      cfg,
		gw:       gw,
		store:    store,
		risk:     risk,
		strategy: strat,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With(slog.String("module", "engine")),
		now:      opts.Now,
		newID:    opts.NewClientOrderID,
		states:   make(map[string]State),
	}
}

// State returns where the cycle of symbol currently is.
func (o *Orchestrator) State(symbol string) State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s, ok := o.states[symbol]; ok {
		return s
	}
	return StateIdle
}

func (o *Orchestrator) enter(symbol string, s State) {
	o.mu.Lock()
	o.states[symbol] = s
	o.mu.Unlock()
}

// RunCycle runs one cycle for symbol. A concurrent call for the same symbol
// joins the cycle already in flight and receives its result.
func (o *Orchestrator) RunCycle(ctx context.Context, symbol string) Result {
	norm, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		start := o.now()
		return o.finish(ctx, Result{
			Symbol:    symbol,
			Outcome:   domain.OutcomeFailed,
			Reason:    "invalid symbol",
			Err:       err,
			StartedAt: start,
		})
	}

	v, _, shared := o.flight.Do(norm, func() (any, error) {
		return o.cycle(ctx, norm), nil
	})
	res := v.(Result)
	res.Shared = shared
	return res
}

// RunAll runs one cycle per symbol concurrently and returns results in the
// order of symbols.
func (o *Orchestrator) RunAll(ctx context.Context, symbols []string) []Result {
	results := make([]Result, len(symbols))
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Go(func() {
			results[i] = o.RunCycle(ctx, sym)
		})
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) cycle(ctx context.Context, symbol string) (res Result) {
	res = Result{Symbol: symbol, StartedAt: o.now()}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("CYCLE_PANIC_RECOVERED", slog.String("symbol", symbol), slog.Any("panic", r))
			res.Outcome = domain.OutcomeFailed
			res.Reason = "internal error"
			res.Err = fmt.Errorf("panic: %v", r)
		}
		o.enter(symbol, StateIdle)
		res = o.finish(ctx, res)
	}()

	// 1. Reconcile orders left ambiguous by earlier cycles
	o.enter(symbol, StateReconciling)
	if done := o.reconcile(ctx, symbol, &res); done {
		return res
	}

	// 2. Fetch candles and ticker concurrently
	o.enter(symbol, StateFetching)
	snap, ticker, err := o.fetch(ctx, symbol)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Reason = "market data unavailable"
		if domain.IsRequestError(err) {
			res.Reason = "market data request rejected"
		}
		res.Err = err
		return res
	}

	// 3. Decide
	o.enter(symbol, StateDeciding)
	sig, err := o.strategy.Decide(snap.Candles())
	if err != nil {
		res.Outcome = domain.OutcomeNoSignal
		res.Reason = err.Error()
		return res
	}
	res.Signal = &sig
	if !sig.Buy {
		res.Outcome = domain.OutcomeNoSignal
		res.Reason = sig.Reason
		return res
	}

	// 4. Risk check
	o.enter(symbol, StateRiskChecking)
	cost := o.cfg.BaseOrderQuote
	decision, err := o.risk.Evaluate(ctx, symbol, cost)
	res.Decision = &decision
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Reason = decision.Reason
		res.Err = err
		return res
	}
	if !decision.Allowed {
		res.Outcome = domain.OutcomeDenied
		res.Reason = decision.Reason
		return res
	}

	req, reason := o.buildOrder(symbol, ticker.Last, cost)
	if reason != "" {
		res.Outcome = domain.OutcomeDenied
		res.Reason = reason
		return res
	}
	reason, err = o.checkBalance(ctx, req)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Reason = "account balance unavailable"
		res.Err = err
		return res
	}
	if reason != "" {
		res.Outcome = domain.OutcomeDenied
		res.Reason = reason
		return res
	}
	res.ClientOrderID = req.ClientOrderID

	// 5. Place exactly once
	o.enter(symbol, StatePlacing)
	ack, err := o.gw.PlaceLimitOrder(ctx, req)
	switch {
	case domain.IsAmbiguous(err):
		res.Outcome = domain.OutcomeNeedsReconciliation
		res.Reason = "order submission outcome unknown"
		res.Err = err
		o.savePending(ctx, req, res.Reason)
		return res
	case err != nil:
		res.Outcome = domain.OutcomeFailed
		res.Reason = "order submission failed"
		if domain.IsRequestError(err) {
			res.Reason = "order request rejected"
		}
		res.Err = err
		return res
	case !ack.WasAccepted():
		res.Outcome = domain.OutcomeFailed
		res.Reason = "order rejected by exchange"
		res.Err = fmt.Errorf("order %s status %s", req.ClientOrderID, ack.Status)
		return res
	}
	res.OrderID = ack.OrderID

	// 6. Record
	o.enter(symbol, StateRecording)
	wctx, cancel := detached(ctx)
	defer cancel()
	if _, err := o.store.RecordFill(wctx, o.fill(req, ack)); err != nil {
		res.Outcome = domain.OutcomeNeedsReconciliation
		res.Reason = "order placed but not recorded"
		res.Err = err
		o.savePending(ctx, req, res.Reason)
		return res
	}
	o.gw.Invalidate(wctx, symbol)

	res.Outcome = domain.OutcomePlaced
	res.Reason = sig.Reason
	return res
}

// reconcile resolves pending orders of symbol. It returns true when the
// cycle must end here.
func (o *Orchestrator) reconcile(ctx context.Context, symbol string, res *Result) bool {
	pending, err := o.store.ListPending(ctx, symbol)
	if err != nil {
		res.Outcome = domain.OutcomeNeedsReconciliation
		res.Reason = "pending orders unreadable"
		res.Err = err
		return true
	}

	recorded := 0
	for _, p := range pending {
		ack, found, err := o.gw.QueryOrder(ctx, symbol, p.ClientOrderID)
		if err != nil {
			res.Outcome = domain.OutcomeNeedsReconciliation
			res.Reason = "pending order could not be looked up"
			res.ClientOrderID = p.ClientOrderID
			res.Err = err
			return true
		}

		if !found || !ack.WasAccepted() {
			o.logger.Info("pending order never reached the book, dropping",
				slog.String("symbol", symbol),
				slog.String("client_order_id", p.ClientOrderID),
				slog.Bool("found", found),
				slog.String("status", ack.Status))
			if err := o.store.DeletePending(ctx, p.ClientOrderID); err != nil {
				res.Outcome = domain.OutcomeNeedsReconciliation
				res.Reason = "pending order could not be cleared"
				res.ClientOrderID = p.ClientOrderID
				res.Err = err
				return true
			}
			continue
		}

		req := domain.OrderRequest{
			ClientOrderID: p.ClientOrderID,
			Symbol:        p.Symbol,
			Side:          p.Side,
			Price:         p.Price,
			Quantity:      p.Quantity,
		}
		wctx, cancel := detached(ctx)
		_, err = o.store.RecordFill(wctx, o.fill(req, ack))
		cancel()
		if err != nil {
			res.Outcome = domain.OutcomeNeedsReconciliation
			res.Reason = "reconciled order could not be recorded"
			res.ClientOrderID = p.ClientOrderID
			res.Err = err
			return true
		}
		o.logger.Info("pending order reconciled",
			slog.String("symbol", symbol),
			slog.String("client_order_id", p.ClientOrderID),
			slog.String("order_id", ack.OrderID))
		res.OrderID = ack.OrderID
		res.ClientOrderID = p.ClientOrderID
		recorded++
	}

	if recorded == 0 {
		return false
	}
	wctx, cancel := detached(ctx)
	defer cancel()
	o.gw.Invalidate(wctx, symbol)
	res.Outcome = domain.OutcomePlaced
	res.Reason = fmt.Sprintf("reconciled %d pending order(s)", recorded)
	return true
}

func (o *Orchestrator) fetch(ctx context.Context, symbol string) (domain.MarketSnapshot, domain.Ticker, error) {
	var (
		snap   domain.MarketSnapshot
		ticker domain.Ticker
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = o.gw.FetchCandles(gctx, symbol, gateway.CandleParams{
			Timeframe: o.cfg.Timeframe,
			Limit:     o.cfg.CandleLimit,
		}, true)
		return err
	})
	g.Go(func() error {
		var err error
		ticker, err = o.gw.FetchTicker(gctx, symbol, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return snap, ticker, err
	}
	if !ticker.Last.IsPositive() {
		return snap, ticker, fmt.Errorf("ticker %s has no last price", symbol)
	}
	return snap, ticker, nil
}

// buildOrder prices a limit buy below the last trade. A non-empty reason
// means the order cannot be expressed at the configured precision.
func (o *Orchestrator) buildOrder(symbol string, last, cost decimal.Decimal) (domain.OrderRequest, string) {
	price := last.Mul(o.cfg.PriceOffset).RoundFloor(o.cfg.PricePrecision)
	if !price.IsPositive() {
		return domain.OrderRequest{}, "order price rounds to zero"
	}
	qty := cost.Div(price).RoundFloor(o.cfg.QuantityPrecision)
	if !qty.IsPositive() {
		return domain.OrderRequest{}, "order quantity rounds to zero"
	}
	return domain.OrderRequest{
		ClientOrderID: o.newID(),
		Symbol:        symbol,
		Side:          domain.SideBuy,
		Price:         price,
		Quantity:      qty,
	}, ""
}

// checkBalance returns a denial reason when the free quote balance cannot
// cover req.
func (o *Orchestrator) checkBalance(ctx context.Context, req domain.OrderRequest) (string, error) {
	bal, err := o.gw.FetchBalance(ctx, true)
	if err != nil {
		return "", err
	}
	quote := domain.QuoteAsset(req.Symbol)
	if free := bal.Available(quote); free.LessThan(req.Cost()) {
		o.logger.Info("insufficient balance",
			slog.String("symbol", req.Symbol),
			slog.String("asset", quote),
			slog.String("free", free.String()),
			slog.String("cost", req.Cost().String()))
		return "insufficient quote balance", nil
	}
	return "", nil
}

func (o *Orchestrator) fill(req domain.OrderRequest, ack domain.OrderAck) domain.Fill {
	return domain.Fill{
		OrderID:       ack.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Strategy:      o.strategy.Name(),
	}
}

func (o *Orchestrator) savePending(ctx context.Context, req domain.OrderRequest, reason string) {
	wctx, cancel := detached(ctx)
	defer cancel()
	err := o.store.SavePending(wctx, domain.PendingOrder{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Strategy:      o.strategy.Name(),
		Reason:        reason,
		CreatedAt:     o.now().UTC(),
	})
	if err != nil {
		o.logger.Error("PENDING_ORDER_NOT_SAVED: reconcile by hand",
			slog.String("symbol", req.Symbol),
			slog.String("client_order_id", req.ClientOrderID),
			slog.String("price", req.Price.String()),
			slog.String("quantity", req.Quantity.String()),
			slog.Any("error", err))
	}
}

// finish stamps, persists, counts and logs a result.
func (o *Orchestrator) finish(ctx context.Context, res Result) Result {
	res.FinishedAt = o.now()
	o.metrics.RecordCycle(res.Symbol, res.Outcome.String(), res.Elapsed())

	// the run is recorded even when the cycle context is already done
	saveCtx, cancel := detached(ctx)
	defer cancel()
	if err := o.store.SaveCycleRun(saveCtx, res.run()); err != nil {
		o.logger.Warn("cycle run not persisted", slog.String("symbol", res.Symbol), slog.Any("error", err))
	}

	attrs := []any{
		slog.String("symbol", res.Symbol),
		slog.String("outcome", res.Outcome.String()),
		slog.String("reason", res.Reason),
		slog.Duration("elapsed", res.Elapsed()),
	}
	if res.ClientOrderID != "" {
		attrs = append(attrs, slog.String("client_order_id", res.ClientOrderID))
	}
	if res.OrderID != "" {
		attrs = append(attrs, slog.String("order_id", res.OrderID))
	}
	if res.Err != nil {
		attrs = append(attrs, slog.Any("error", res.Err))
	}

	switch res.Outcome {
	case domain.OutcomeFailed:
		level := slog.LevelError
		if errors.Is(res.Err, context.Canceled) {
			level = slog.LevelWarn
		}
		o.logger.Log(ctx, level, "cycle failed", attrs...)
	case domain.OutcomeNeedsReconciliation:
		o.logger.Warn("cycle needs reconciliation", attrs...)
	default:
		o.logger.Info("cycle finished", attrs...)
	}
	return res
}
