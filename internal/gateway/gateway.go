package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/infra"
	"qrl_trader/internal/infra/cache"
)

const (
	DefaultDepth       = 20
	DefaultTradesLimit = 50
)

// CandleParams selects a candle series.
type CandleParams struct {
	Timeframe string
	Limit     int
}

// Options carries the optional collaborators of a Gateway.
type Options struct {
	Sleeper infra.Sleeper
	Metrics *infra.Metrics
	Logger  *slog.Logger
}

// Gateway is the cache-aside front of the exchange. Reads check the cache
// first and retry transient failures; order placement is never cached and
// never retried.
type Gateway struct {
	exchange       domain.Exchange
	cache          *cache.Store
	ttl            infra.CacheTTLs
	limiter        *infra.RateLimiter
	retry          infra.RetryPolicy
	requestTimeout time.Duration
	sleep          infra.Sleeper
	metrics        *infra.Metrics
	logger         *slog.Logger
}

// New creates a Gateway. A nil store behaves like a cache that always misses.
func New(exchange domain.Exchange, store *cache.Store, cfg *infra.Config, opts Options) (*Gateway, error) {
	if store == nil {
		var err error
		store, err = cache.New(nil, cache.Options{Namespace: cfg.Cache.Namespace, Version: cfg.Cache.Version})
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Cache.TTL.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleeper == nil {
		opts.Sleeper = infra.SleepContext
	}

	return &Gateway{
		exchange:       exchange,
		cache:          store,
		ttl:            cfg.Cache.TTL,
		limiter:        infra.NewRateLimiter(cfg.API.Burst, cfg.API.RequestsPerSecond),
		retry:          cfg.API.Retry,
		requestTimeout: cfg.API.RequestTimeout,
		sleep:          opts.Sleeper,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With(slog.String("module", "gateway")),
	}, nil
}

func classify(err error) infra.Decision {
	if domain.IsRetriable(err) {
		return infra.RetryLater
	}
	return infra.Abort
}

// call runs one throttled network attempt with its own deadline.
func (g *Gateway) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// withRetry runs a read under the retry policy.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return infra.Retry(ctx, g.retry, g.sleep, classify, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			g.metrics.RecordRetry(op)
			g.logger.Info("retrying read", slog.String("op", op), slog.Int("attempt", attempt))
		}
		return g.call(ctx, fn)
	})
}

// readThrough is the cache-aside path shared by every read. useCache=false
// skips the lookup but still refreshes the entry.
func readThrough[T any](ctx context.Context, g *Gateway, dataType, key string, ttl time.Duration, useCache bool, fetch func(ctx context.Context) (T, error)) (T, error) {
	if useCache {
		var cached T
		if g.cache.Get(ctx, key, &cached) {
			g.metrics.RecordCacheLookup(dataType, true)
			return cached, nil
		}
		g.metrics.RecordCacheLookup(dataType, false)
	}

	var out T
	err := g.withRetry(ctx, dataType, func(ctx context.Context) error {
		v, err := fetch(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("fetch %s: %w", key, err)
	}

	if !g.cache.Set(ctx, key, out, ttl) && g.cache.Enabled() {
		g.logger.Debug("cache write skipped", slog.String("key", key))
	}
	return out, nil
}

// FetchTicker returns the live quote of symbol.
func (g *Gateway) FetchTicker(ctx context.Context, symbol string, useCache bool) (domain.Ticker, error) {
	return readThrough(ctx, g, "ticker", TickerKey(symbol), g.ttl.Ticker, useCache,
		func(ctx context.Context) (domain.Ticker, error) {
			return g.exchange.Ticker(ctx, symbol)
		})
}

// FetchCandles returns the candle series of symbol, oldest first.
func (g *Gateway) FetchCandles(ctx context.Context, symbol string, p CandleParams, useCache bool) (domain.MarketSnapshot, error) {
	if p.Limit <= 0 {
		return domain.MarketSnapshot{}, &domain.RequestError{Op: "klines", Msg: "candle limit must be positive"}
	}
	if _, err := domain.TimeframeDuration(p.Timeframe); err != nil {
		return domain.MarketSnapshot{}, &domain.RequestError{Op: "klines", Msg: err.Error()}
	}

	return readThrough(ctx, g, "candles", CandlesKey(symbol, p.Timeframe, p.Limit), g.ttl.Candles, useCache,
		func(ctx context.Context) (domain.MarketSnapshot, error) {
			candles, err := g.exchange.Klines(ctx, symbol, p.Timeframe, p.Limit)
			if err != nil {
				return domain.MarketSnapshot{}, err
			}
			return domain.MarketSnapshot{
				Symbol:    symbol,
				Timeframe: p.Timeframe,
				Bars:      candles,
				FetchedAt: time.Now().UTC(),
			}, nil
		})
}

// FetchOrderBook returns the top depth levels of each side.
func (g *Gateway) FetchOrderBook(ctx context.Context, symbol string, depth int, useCache bool) (domain.OrderBook, error) {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return readThrough(ctx, g, "orderbook", OrderBookKey(symbol, depth), g.ttl.OrderBook, useCache,
		func(ctx context.Context) (domain.OrderBook, error) {
			return g.exchange.Depth(ctx, symbol, depth)
		})
}

// FetchRecentTrades returns the latest public trades.
func (g *Gateway) FetchRecentTrades(ctx context.Context, symbol string, limit int, useCache bool) (domain.RecentTrades, error) {
	if limit <= 0 {
		limit = DefaultTradesLimit
	}
	return readThrough(ctx, g, "trades", TradesKey(symbol, limit), g.ttl.RecentTrades, useCache,
		func(ctx context.Context) (domain.RecentTrades, error) {
			return g.exchange.Trades(ctx, symbol, limit)
		})
}

// FetchBalance returns the spot account balances.
func (g *Gateway) FetchBalance(ctx context.Context, useCache bool) (domain.AccountBalance, error) {
	return readThrough(ctx, g, "balance", BalanceKey, g.ttl.Balance, useCache,
		func(ctx context.Context) (domain.AccountBalance, error) {
			return g.exchange.Account(ctx)
		})
}

// PlaceLimitOrder submits req exactly once. A *domain.AmbiguousOrderError
// means the order may exist and must be reconciled, not resubmitted.
func (g *Gateway) PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	var ack domain.OrderAck
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		ack, err = g.exchange.PlaceOrder(ctx, req)
		return err
	})

	result := "accepted"
	switch {
	case domain.IsAmbiguous(err):
		result = "ambiguous"
	case err != nil:
		result = "failed"
	case !ack.WasAccepted():
		result = "rejected"
	}
	g.metrics.RecordOrder(req.Symbol, req.Side, result)

	if err != nil {
		g.logger.Warn("order submission failed",
			slog.String("symbol", req.Symbol),
			slog.String("client_order_id", req.ClientOrderID),
			slog.String("result", result),
			slog.Any("error", err))
		return domain.OrderAck{}, err
	}
	return ack, nil
}

// QueryOrder looks an order up by client order id. found is false when the
// exchange has no record of it.
func (g *Gateway) QueryOrder(ctx context.Context, symbol, clientOrderID string) (ack domain.OrderAck, found bool, err error) {
	err = g.withRetry(ctx, "query_order", func(ctx context.Context) error {
		var qerr error
		ack, qerr = g.exchange.QueryOrder(ctx, symbol, clientOrderID)
		return qerr
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.OrderAck{}, false, nil
	}
	if err != nil {
		return domain.OrderAck{}, false, err
	}
	return ack, true, nil
}

// Invalidate drops every cached entry of symbol plus the balance, or the
// whole namespace when symbol is empty. Returns the number of keys removed.
func (g *Gateway) Invalidate(ctx context.Context, symbol string) int {
	if symbol == "" {
		n := g.cache.DeletePattern(ctx, "*")
		g.logger.Info("cache cleared", slog.Int("keys", n))
		return n
	}

	n := 0
	for _, p := range symbolPatterns(symbol) {
		n += g.cache.DeletePattern(ctx, p)
	}
	g.logger.Debug("cache invalidated", slog.String("symbol", symbol), slog.Int("keys", n))
	return n
}

// Prime stores an externally received quote under the ticker key.
func (g *Gateway) Prime(ctx context.Context, t domain.Ticker) bool {
	if t.Symbol == "" || !t.Last.IsPositive() {
		return false
	}
	return g.cache.Set(ctx, TickerKey(t.Symbol), t, g.ttl.Ticker)
}

// CacheStats exposes the store statistics.
func (g *Gateway) CacheStats(ctx context.Context) cache.Stats {
	return g.cache.Stats(ctx)
}
