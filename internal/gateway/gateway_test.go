package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/infra"
	"qrl_trader/internal/infra/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchange counts calls and replays scripted failures.
type fakeExchange struct {
	mu     sync.Mutex
	calls  map[string]int
	errs   map[string][]error // consumed front to back
	last   decimal.Decimal
	placed []domain.OrderRequest
	orders map[string]domain.OrderAck
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		calls:  make(map[string]int),
		errs:   make(map[string][]error),
		last:   decimal.RequireFromString("0.2"),
		orders: make(map[string]domain.OrderAck),
	}
}

func (f *fakeExchange) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if q := f.errs[op]; len(q) > 0 {
		f.errs[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeExchange) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeExchange) fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

func (f *fakeExchange) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	if err := f.hit("ticker"); err != nil {
		return domain.Ticker{}, err
	}
	return domain.Ticker{Symbol: symbol, Last: f.last, FetchedAt: time.Now().UTC()}, nil
}

func (f *fakeExchange) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if err := f.hit("klines"); err != nil {
		return nil, err
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, limit)
	for i := range out {
		p := decimal.NewFromInt(int64(100 + i)).Div(decimal.NewFromInt(1000))
		out[i] = domain.Candle{
			OpenTime:  start.Add(time.Duration(i) * 24 * time.Hour),
			CloseTime: start.Add(time.Duration(i+1)*24*time.Hour - time.Millisecond),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return out, nil
}

func (f *fakeExchange) Depth(ctx context.Context, symbol string, limit int) (domain.OrderBook, error) {
	if err := f.hit("depth"); err != nil {
		return domain.OrderBook{}, err
	}
	return domain.OrderBook{Symbol: symbol, Bids: []domain.BookLevel{{Price: f.last, Quantity: decimal.NewFromInt(1)}}}, nil
}

func (f *fakeExchange) Trades(ctx context.Context, symbol string, limit int) (domain.RecentTrades, error) {
	if err := f.hit("trades"); err != nil {
		return domain.RecentTrades{}, err
	}
	return domain.RecentTrades{Symbol: symbol, Trades: []domain.PublicTrade{{ID: "1", Price: f.last}}}, nil
}

func (f *fakeExchange) Account(ctx context.Context) (domain.AccountBalance, error) {
	if err := f.hit("account"); err != nil {
		return domain.AccountBalance{}, err
	}
	return domain.AccountBalance{Assets: map[string]domain.AssetBalance{"USDT": {Free: decimal.NewFromInt(1000)}}}, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if err := f.hit("place"); err != nil {
		return domain.OrderAck{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	ack := domain.OrderAck{OrderID: "o-" + req.ClientOrderID, ClientOrderID: req.ClientOrderID, Symbol: req.Symbol,
		Side: req.Side, Price: req.Price, Quantity: req.Quantity, Status: domain.OrderStatusNew}
	f.orders[req.ClientOrderID] = ack
	return ack, nil
}

func (f *fakeExchange) QueryOrder(ctx context.Context, symbol, clientOrderID string) (domain.OrderAck, error) {
	if err := f.hit("query"); err != nil {
		return domain.OrderAck{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ack, ok := f.orders[clientOrderID]
	if !ok {
		return domain.OrderAck{}, domain.ErrOrderNotFound
	}
	return ack, nil
}

type fixture struct {
	gw      *Gateway
	ex      *fakeExchange
	store   *cache.Store
	advance func(time.Duration)
	sleeps  *[]time.Duration
	metrics *infra.Metrics
	redis   *miniredis.Miniredis
}

func testConfig() *infra.Config {
	cfg := infra.DefaultConfig()
	cfg.API.RequestsPerSecond = 1000
	cfg.API.Burst = 1000
	cfg.API.RequestTimeout = time.Second
	cfg.API.Retry = infra.RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	cfg.Cache.TTL = infra.CacheTTLs{
		Ticker:       5 * time.Second,
		OrderBook:    5 * time.Second,
		RecentTrades: 10 * time.Second,
		Balance:      30 * time.Second,
		Candles:      86400 * time.Second,
	}
	return cfg
}

func newMemoryFixture(t *testing.T, cfg *infra.Config) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mb, err := cache.NewMemoryBackend(1000, 0, clock)
	require.NoError(t, err)
	store, err := cache.New(mb, cache.Options{Namespace: "qrl", Version: "v1", Now: clock})
	require.NoError(t, err)

	f := newFixture(t, cfg, store)
	f.advance = func(d time.Duration) { now = now.Add(d) }
	return f
}

func newRedisFixture(t *testing.T, cfg *infra.Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rb, err := cache.NewRedisBackend("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })
	store, err := cache.New(rb, cache.Options{Namespace: "qrl", Version: "v1", OpTimeout: time.Second})
	require.NoError(t, err)

	f := newFixture(t, cfg, store)
	f.advance = mr.FastForward
	f.redis = mr
	return f
}

func newFixture(t *testing.T, cfg *infra.Config, store *cache.Store) *fixture {
	t.Helper()
	ex := newFakeExchange()
	sleeps := &[]time.Duration{}
	metrics := infra.NewMetrics()
	gw, err := New(ex, store, cfg, Options{
		Metrics: metrics,
		Sleeper: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	})
	require.NoError(t, err)
	return &fixture{gw: gw, ex: ex, store: store, sleeps: sleeps, metrics: metrics}
}

func TestFetchCandles_TenSecondsApartHitsCache(t *testing.T) {
	fixtures := map[string]func(*testing.T, *infra.Config) *fixture{
		"memory": newMemoryFixture,
		"redis":  newRedisFixture,
	}
	for name, mk := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := mk(t, testConfig())
			ctx := context.Background()
			params := CandleParams{Timeframe: "1d", Limit: 120}

			first, err := f.gw.FetchCandles(ctx, "QRL/USDT", params, true)
			require.NoError(t, err)

			f.advance(10 * time.Second)

			second, err := f.gw.FetchCandles(ctx, "QRL/USDT", params, true)
			require.NoError(t, err)

			assert.Equal(t, 1, f.ex.count("klines"), "second fetch must be served from cache")
			require.Len(t, second.Bars, len(first.Bars))
			for i := range first.Bars {
				assert.True(t, first.Bars[i].Close.Equal(second.Bars[i].Close))
				assert.True(t, first.Bars[i].OpenTime.Equal(second.Bars[i].OpenTime))
			}
			assert.True(t, first.FetchedAt.Equal(second.FetchedAt))

			third, err := f.gw.FetchCandles(ctx, "QRL/USDT", params, true)
			require.NoError(t, err)
			assert.Equal(t, second, third, "two cache hits must be identical")
		})
	}
}

func TestFetch_CacheHitDeterminism(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	tests := []struct {
		name  string
		op    string
		fetch func() (any, error)
	}{
		{"ticker", "ticker", func() (any, error) { return f.gw.FetchTicker(ctx, "QRL/USDT", true) }},
		{"orderbook", "depth", func() (any, error) { return f.gw.FetchOrderBook(ctx, "QRL/USDT", 20, true) }},
		{"trades", "trades", func() (any, error) { return f.gw.FetchRecentTrades(ctx, "QRL/USDT", 50, true) }},
		{"balance", "account", func() (any, error) { return f.gw.FetchBalance(ctx, true) }},
		{"candles", "klines", func() (any, error) {
			return f.gw.FetchCandles(ctx, "QRL/USDT", CandleParams{Timeframe: "4h", Limit: 10}, true)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fetch()
			require.NoError(t, err)
			a, err := tt.fetch()
			require.NoError(t, err)
			b, err := tt.fetch()
			require.NoError(t, err)

			assert.Equal(t, a, b)
			assert.Equal(t, 1, f.ex.count(tt.op))
		})
	}
}

func TestFetchTicker_HitKeepsDecimalScale(t *testing.T) {
	fixtures := map[string]func(*testing.T, *infra.Config) *fixture{
		"memory": newMemoryFixture,
		"redis":  newRedisFixture,
	}
	for name, mk := range fixtures {
		t.Run(name, func(t *testing.T) {
			f := mk(t, testConfig())
			ctx := context.Background()
			f.ex.last = decimal.RequireFromString("0.2000")

			miss, err := f.gw.FetchTicker(ctx, "QRL/USDT", true)
			require.NoError(t, err)
			hit, err := f.gw.FetchTicker(ctx, "QRL/USDT", true)
			require.NoError(t, err)

			assert.Equal(t, 1, f.ex.count("ticker"))
			assert.Equal(t, int32(-4), hit.Last.Exponent())
			assert.Equal(t, miss.Last.StringFixed(4), hit.Last.StringFixed(4))
			assert.Equal(t, miss, hit, "a hit must return exactly what the miss returned")
		})
	}
}

func TestFetchTicker_TTLExpiry(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.gw.FetchTicker(ctx, "QRL/USDT", true)
	require.NoError(t, err)
	f.advance(6 * time.Second)
	_, err = f.gw.FetchTicker(ctx, "QRL/USDT", true)
	require.NoError(t, err)

	assert.Equal(t, 2, f.ex.count("ticker"), "ticker must be refetched after its 5s TTL")
}

func TestFetch_UseCacheFalseBypassesLookup(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.gw.FetchTicker(ctx, "QRL/USDT", true)
	require.NoError(t, err)

	f.ex.last = decimal.RequireFromString("0.25")
	tk, err := f.gw.FetchTicker(ctx, "QRL/USDT", false)
	require.NoError(t, err)
	assert.True(t, tk.Last.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, 2, f.ex.count("ticker"))

	// the refreshed value is now what the cache serves
	tk, err = f.gw.FetchTicker(ctx, "QRL/USDT", true)
	require.NoError(t, err)
	assert.True(t, tk.Last.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, 2, f.ex.count("ticker"))
}

func TestFetchTicker_CacheUnreachable(t *testing.T) {
	f := newRedisFixture(t, testConfig())
	ctx := context.Background()
	f.redis.Close()

	for i := 0; i < 3; i++ {
		tk, err := f.gw.FetchTicker(ctx, "QRL/USDT", true)
		require.NoError(t, err, "an unreachable cache must never fail a read")
		assert.True(t, tk.Last.Equal(decimal.RequireFromString("0.2")))
	}
	assert.Equal(t, 3, f.ex.count("ticker"), "every read goes to the exchange")
	assert.False(t, f.gw.CacheStats(ctx).Available)
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	f.ex.fail("ticker",
		domain.NewNetworkError("ticker", errors.New("connection reset")),
		domain.NewNetworkError("ticker", errors.New("status 502")),
	)

	tk, err := f.gw.FetchTicker(ctx, "QRL/USDT", true)
	require.NoError(t, err)
	assert.Equal(t, "QRL/USDT", tk.Symbol)
	assert.Equal(t, 3, f.ex.count("ticker"))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *f.sleeps)
}

func TestFetch_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.ex.fail("klines", domain.NewNetworkError("klines", errors.New("timeout")))
	}

	_, err := f.gw.FetchCandles(ctx, "QRL/USDT", CandleParams{Timeframe: "1d", Limit: 120}, true)
	require.Error(t, err)

	var re *infra.RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, 3, f.ex.count("klines"))
	assert.Equal(t, 0, f.store.Stats(ctx).Keys, "failures are never cached")
}

func TestFetch_RequestErrorIsNotRetried(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	f.ex.fail("account", &domain.RequestError{Op: "account", Status: 401, Code: "700002", Msg: "bad signature"})

	_, err := f.gw.FetchBalance(ctx, true)
	require.Error(t, err)
	assert.True(t, domain.IsRequestError(err))
	assert.Equal(t, 1, f.ex.count("account"))
	assert.Empty(t, *f.sleeps)
}

func TestFetchCandles_InvalidParams(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.gw.FetchCandles(ctx, "QRL/USDT", CandleParams{Timeframe: "1d", Limit: 0}, true)
	assert.True(t, domain.IsRequestError(err))
	_, err = f.gw.FetchCandles(ctx, "QRL/USDT", CandleParams{Timeframe: "2d", Limit: 10}, true)
	assert.True(t, domain.IsRequestError(err))
	assert.Equal(t, 0, f.ex.count("klines"))
}

func TestCacheHitConsumesNoRateBudget(t *testing.T) {
	cfg := testConfig()
	cfg.API.Burst = 1
	cfg.API.RequestsPerSecond = 0.001
	f := newMemoryFixture(t, cfg)

	_, err := f.gw.FetchTicker(context.Background(), "QRL/USDT", true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.gw.FetchTicker(ctx, "QRL/USDT", true)
	require.NoError(t, err, "a hit must not wait for a token")

	_, err = f.gw.FetchOrderBook(ctx, "QRL/USDT", 20, true)
	assert.Error(t, err, "a miss with an empty bucket must wait on the limiter")
}

func orderReq(id string) domain.OrderRequest {
	return domain.OrderRequest{
		ClientOrderID: id,
		Symbol:        "QRL/USDT",
		Side:          domain.SideBuy,
		Price:         decimal.RequireFromString("0.196"),
		Quantity:      decimal.RequireFromString("255.1"),
	}
}

func TestPlaceLimitOrder(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newMemoryFixture(t, testConfig())
		ack, err := f.gw.PlaceLimitOrder(context.Background(), orderReq("c1"))
		require.NoError(t, err)
		assert.Equal(t, "o-c1", ack.OrderID)
	})

	t.Run("ambiguous is never retried", func(t *testing.T) {
		f := newMemoryFixture(t, testConfig())
		f.ex.fail("place", &domain.AmbiguousOrderError{ClientOrderID: "c2", Symbol: "QRL/USDT", Err: context.DeadlineExceeded})

		_, err := f.gw.PlaceLimitOrder(context.Background(), orderReq("c2"))
		assert.True(t, domain.IsAmbiguous(err))
		assert.Equal(t, 1, f.ex.count("place"))
		assert.Empty(t, *f.sleeps)
	})

	t.Run("transient failure is not retried either", func(t *testing.T) {
		f := newMemoryFixture(t, testConfig())
		f.ex.fail("place", domain.NewNetworkError("place_order", errors.New("connection refused")))

		_, err := f.gw.PlaceLimitOrder(context.Background(), orderReq("c3"))
		assert.Error(t, err)
		assert.False(t, domain.IsAmbiguous(err))
		assert.Equal(t, 1, f.ex.count("place"))
	})

	t.Run("orders are never cached", func(t *testing.T) {
		f := newMemoryFixture(t, testConfig())
		_, err := f.gw.PlaceLimitOrder(context.Background(), orderReq("c4"))
		require.NoError(t, err)
		assert.Equal(t, 0, f.store.Stats(context.Background()).Keys)
	})
}

func TestQueryOrder(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	_, err := f.gw.PlaceLimitOrder(ctx, orderReq("known"))
	require.NoError(t, err)

	f.ex.fail("query", domain.NewNetworkError("query_order", errors.New("reset")))
	ack, found, err := f.gw.QueryOrder(ctx, "QRL/USDT", "known")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "o-known", ack.OrderID)
	assert.Equal(t, 2, f.ex.count("query"), "queries are reads and retry")

	_, found, err = f.gw.QueryOrder(ctx, "QRL/USDT", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidate(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	for _, sym := range []string{"QRL/USDT", "BTC/USDT"} {
		_, err := f.gw.FetchTicker(ctx, sym, true)
		require.NoError(t, err)
		_, err = f.gw.FetchCandles(ctx, sym, CandleParams{Timeframe: "1d", Limit: 5}, true)
		require.NoError(t, err)
		_, err = f.gw.FetchOrderBook(ctx, sym, 20, true)
		require.NoError(t, err)
	}
	_, err := f.gw.FetchBalance(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 7, f.store.Stats(ctx).Keys)

	n := f.gw.Invalidate(ctx, "QRL/USDT")
	assert.Equal(t, 4, n, "three QRL entries plus the balance")
	assert.Equal(t, 3, f.store.Stats(ctx).Keys)

	_, err = f.gw.FetchTicker(ctx, "BTC/USDT", true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ex.count("ticker"), "BTC entries survive")

	n = f.gw.Invalidate(ctx, "")
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, f.store.Stats(ctx).Keys)
}

func TestPrime(t *testing.T) {
	f := newMemoryFixture(t, testConfig())
	ctx := context.Background()

	ok := f.gw.Prime(ctx, domain.Ticker{Symbol: "QRL/USDT", Last: decimal.RequireFromString("0.3")})
	require.True(t, ok)

	tk, err := f.gw.FetchTicker(ctx, "QRL/USDT", true)
	require.NoError(t, err)
	assert.True(t, tk.Last.Equal(decimal.RequireFromString("0.3")))
	assert.Equal(t, 0, f.ex.count("ticker"))

	assert.False(t, f.gw.Prime(ctx, domain.Ticker{Symbol: "QRL/USDT"}), "quotes without a price are ignored")
}

func TestNew_RejectsInvertedTTLs(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.TTL.Candles = time.Second
	_, err := New(newFakeExchange(), nil, cfg, Options{})
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
