package risk

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"qrl_trader/internal/infra"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLedger struct {
	exposure decimal.Decimal
	today    int64
	last     time.Time
	err      error
}

func (s *stubLedger) GetExposure(context.Context, string) (decimal.Decimal, error) {
	return s.exposure, s.err
}

func (s *stubLedger) TradeStats(context.Context, string, time.Time) (int64, time.Time, error) {
	return s.today, s.last, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tradingConfig() infra.TradingConfig {
	cfg := infra.DefaultConfig().Trading
	cfg.MinOrderQuote = d("5")
	cfg.MaxOrderQuote = d("100")
	cfg.MaxPositionQuote = d("500")
	cfg.MaxDailyOrders = 0
	cfg.Cooldown = 0
	return cfg
}

func TestEvaluate_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		exposure string
		cost     string
		allowed  bool
		reason   string
	}{
		{"empty position", "0", "50", true, ReasonPassed},
		{"would exceed limit", "480", "50", false, ReasonMaxPosition},
		{"exactly at limit", "450", "50", true, ReasonPassed},
		{"below minimum", "0", "4.99", false, ReasonBelowMinimum},
		{"above maximum", "0", "100.01", false, ReasonAboveMaximum},
		{"zero cost", "0", "0", false, ReasonNonPositive},
		{"size checked before position", "500", "1", false, ReasonBelowMinimum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(tradingConfig(), &stubLedger{exposure: d(tt.exposure)})
			dec, err := gate.Evaluate(context.Background(), "QRL/USDT", d(tt.cost))
			require.NoError(t, err)

			assert.Equal(t, tt.allowed, dec.Allowed)
			assert.Equal(t, tt.reason, dec.Reason)
			assert.True(t, dec.ObservedExposure.Equal(d(tt.exposure)))
			assert.True(t, dec.ProposedExposure.Equal(d(tt.exposure).Add(d(tt.cost))))
		})
	}
}

func TestEvaluate_PerSymbolOverride(t *testing.T) {
	cfg := tradingConfig()
	cfg.MaxPositionOverrides = map[string]decimal.Decimal{"BTC/USDT": d("1000")}
	gate := NewGate(cfg, &stubLedger{exposure: d("900")})

	dec, err := gate.Evaluate(context.Background(), "BTC/USDT", d("50"))
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	dec, err = gate.Evaluate(context.Background(), "QRL/USDT", d("50"))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonMaxPosition, dec.Reason)
}

func TestEvaluate_DailyCapAndCooldown(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("daily cap", func(t *testing.T) {
		cfg := tradingConfig()
		cfg.MaxDailyOrders = 3
		gate := NewGate(cfg, &stubLedger{today: 3}).WithClock(func() time.Time { return now })

		dec, err := gate.Evaluate(context.Background(), "QRL/USDT", d("50"))
		require.NoError(t, err)
		assert.Equal(t, ReasonDailyCap, dec.Reason)
	})

	t.Run("cooldown active", func(t *testing.T) {
		cfg := tradingConfig()
		cfg.Cooldown = time.Hour
		gate := NewGate(cfg, &stubLedger{last: now.Add(-30 * time.Minute)}).WithClock(func() time.Time { return now })

		dec, err := gate.Evaluate(context.Background(), "QRL/USDT", d("50"))
		require.NoError(t, err)
		assert.Equal(t, ReasonCooldown, dec.Reason)
	})

	t.Run("cooldown elapsed", func(t *testing.T) {
		cfg := tradingConfig()
		cfg.Cooldown = time.Hour
		gate := NewGate(cfg, &stubLedger{last: now.Add(-2 * time.Hour)}).WithClock(func() time.Time { return now })

		dec, err := gate.Evaluate(context.Background(), "QRL/USDT", d("50"))
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
	})
}

func TestEvaluate_LaterChecksOnlyTighten(t *testing.T) {
	approveAll := func(Proposal) (bool, string) { return true, "" }
	denyAll := func(Proposal) (bool, string) { return false, "kill switch" }

	gate := NewGate(tradingConfig(), &stubLedger{exposure: d("480")}).WithChecks(approveAll)
	dec, err := gate.Evaluate(context.Background(), "QRL/USDT", d("50"))
	require.NoError(t, err)
	assert.False(t, dec.Allowed, "an approving extra check cannot lift an earlier denial")
	assert.Equal(t, ReasonMaxPosition, dec.Reason)

	gate = NewGate(tradingConfig(), &stubLedger{}).WithChecks(denyAll)
	dec, err = gate.Evaluate(context.Background(), "QRL/USDT", d("50"))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "kill switch", dec.Reason)
}

func TestEvaluate_LedgerFailureDenies(t *testing.T) {
	gate := NewGate(tradingConfig(), &stubLedger{err: errors.New("database is locked")})
	dec, err := gate.Evaluate(context.Background(), "QRL/USDT", d("50"))
	assert.Error(t, err)
	assert.False(t, dec.Allowed)
}

func TestEvaluate_NeverApprovesBeyondMaxPosition(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1337))
	cfg := tradingConfig()
	cfg.MinOrderQuote = decimal.Zero
	cfg.MaxOrderQuote = decimal.Zero

	for i := 0; i < 5000; i++ {
		// cents, so boundaries are hit exactly now and then
		maxPos := decimal.New(rng.Int64N(100_000), -2)
		exposure := decimal.New(rng.Int64N(100_000), -2)
		cost := decimal.New(rng.Int64N(20_000)+1, -2)

		c := cfg
		c.MaxPositionQuote = maxPos
		gate := NewGate(c, &stubLedger{exposure: exposure})

		dec, err := gate.Evaluate(context.Background(), "QRL/USDT", cost)
		require.NoError(t, err)

		over := exposure.Add(cost).GreaterThan(maxPos)
		if dec.Allowed && over {
			t.Fatalf("approved exposure %s + cost %s beyond max %s", exposure, cost, maxPos)
		}
		if !dec.Allowed && !over {
			t.Fatalf("denied exposure %s + cost %s within max %s: %s", exposure, cost, maxPos, dec.Reason)
		}
	}
}

func TestUtilizationAndCapacity(t *testing.T) {
	assert.True(t, Utilization(d("125"), d("500")).Equal(d("25")))
	assert.True(t, Utilization(d("125"), decimal.Zero).IsZero())
	assert.True(t, Capacity(d("480"), d("500")).Equal(d("20")))
	assert.True(t, Capacity(d("600"), d("500")).IsZero())
}
