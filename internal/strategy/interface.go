package strategy

import (
	"fmt"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/infra"

	"github.com/shopspring/decimal"
)

// Strategy maps a candle series to a buy / no-buy signal.
// Implementations are pure: the same candles always give the same signal.
type Strategy interface {
	Name() string

	// Decide inspects candles ordered oldest first. It returns
	// domain.ErrInsufficientCandles when the series is too short.
	Decide(candles []domain.Candle) (domain.Signal, error)
}

const (
	NameEMAAccumulation = "ema_accumulation"
	NameSMACross        = "sma_cross"
)

// Build creates the strategy selected by cfg.Name.
func Build(cfg infra.StrategyConfig) (Strategy, error) {
	switch cfg.Name {
	case NameEMAAccumulation, "":
		return NewEMAAccumulation(cfg.ShortPeriod, cfg.LongPeriod, cfg.SupportThreshold)
	case NameSMACross:
		return NewSMACross(cfg.ShortPeriod, cfg.LongPeriod)
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Name)
	}
}

func closes(candles []domain.Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
