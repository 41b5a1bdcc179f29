package strategy_test

import (
	"errors"
	"testing"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/infra"
	"qrl_trader/internal/strategy"

	"github.com/shopspring/decimal"
)

func repeat(p float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func TestEMA(t *testing.T) {
	prices := []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(3)}
	// alpha = 2/3: 1 -> 5/3 -> 23/9
	got := strategy.EMA(prices, 2).Round(6)
	if !got.Equal(decimal.RequireFromString("2.555556")) {
		t.Errorf("Expected 2.555556, got %s", got)
	}
	if !strategy.EMA(nil, 5).IsZero() {
		t.Error("Expected zero EMA for empty series")
	}
}

func TestEMAAccumulation(t *testing.T) {
	strat, err := strategy.NewEMAAccumulation(20, 60, decimal.RequireFromString("1.02"))
	if err != nil {
		t.Fatalf("NewEMAAccumulation failed: %v", err)
	}

	falling := make([]float64, 80)
	for i := range falling {
		falling[i] = 2.0 - float64(i)*0.0125
	}

	tests := []struct {
		name   string
		prices []float64
		buy    bool
		reason string
	}{
		{
			name:   "flat market sits on support",
			prices: repeat(0.2, 60),
			buy:    true,
			reason: "price near long EMA support with positive momentum",
		},
		{
			name:   "downtrend has no momentum",
			prices: falling,
			buy:    false,
			reason: "short EMA below long EMA",
		},
		{
			name:   "spike runs away from support",
			prices: append(repeat(1.0, 79), 1.5),
			buy:    false,
			reason: "price too far above long EMA",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := strat.Decide(candlesOf(tt.prices...))
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if sig.Buy != tt.buy {
				t.Errorf("Expected buy=%v, got %v (%s)", tt.buy, sig.Buy, sig.Reason)
			}
			if sig.Reason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, sig.Reason)
			}
			if sig.Metadata["ema_slow"] == "" {
				t.Error("Expected EMA values in metadata")
			}
		})
	}
}

func TestEMAAccumulation_InsufficientCandles(t *testing.T) {
	strat, _ := strategy.NewEMAAccumulation(20, 60, decimal.RequireFromString("1.02"))
	_, err := strat.Decide(candlesOf(repeat(0.2, 59)...))
	if !errors.Is(err, domain.ErrInsufficientCandles) {
		t.Errorf("Expected ErrInsufficientCandles, got %v", err)
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		cfg     infra.StrategyConfig
		want    string
		wantErr bool
	}{
		{"default", infra.DefaultConfig().Trading.Strategy, strategy.NameEMAAccumulation, false},
		{"sma", infra.StrategyConfig{Name: "sma_cross", ShortPeriod: 5, LongPeriod: 20}, strategy.NameSMACross, false},
		{"unknown", infra.StrategyConfig{Name: "martingale"}, "", true},
		{"bad periods", infra.StrategyConfig{Name: "sma_cross", ShortPeriod: 20, LongPeriod: 5}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := strategy.Build(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if s.Name() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, s.Name())
			}
		})
	}
}
