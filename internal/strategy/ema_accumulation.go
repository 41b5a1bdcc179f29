package strategy

import (
	"errors"
	"fmt"

	"qrl_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// EMAAccumulation buys dips in an uptrend: the last close sits within
// SupportThreshold of the long EMA while the short EMA is at or above it.
type EMAAccumulation struct {
	shortPeriod int
	longPeriod  int
	threshold   decimal.Decimal // e.g. 1.02 = within 2% above the long EMA
}

// NewEMAAccumulation validates the periods and threshold.
func NewEMAAccumulation(shortPeriod, longPeriod int, threshold decimal.Decimal) (*EMAAccumulation, error) {
	if shortPeriod <= 0 || shortPeriod >= longPeriod {
		return nil, errors.New("ema accumulation: short period must be positive and less than long period")
	}
	if !threshold.IsPositive() {
		return nil, errors.New("ema accumulation: support threshold must be positive")
	}
	return &EMAAccumulation{shortPeriod: shortPeriod, longPeriod: longPeriod, threshold: threshold}, nil
}

func (s *EMAAccumulation) Name() string { return NameEMAAccumulation }

// Decide implements Strategy.
func (s *EMAAccumulation) Decide(candles []domain.Candle) (domain.Signal, error) {
	if len(candles) < s.longPeriod {
		return domain.Signal{}, fmt.Errorf("%w: need %d, got %d", domain.ErrInsufficientCandles, s.longPeriod, len(candles))
	}

	prices := closes(candles)
	short := EMA(prices, s.shortPeriod)
	long := EMA(prices, s.longPeriod)
	last := prices[len(prices)-1]

	nearSupport := last.LessThanOrEqual(long.Mul(s.threshold))
	momentum := short.GreaterThanOrEqual(long)

	sig := domain.Signal{
		Buy: nearSupport && momentum,
		Metadata: map[string]string{
			"close":    last.String(),
			"ema_fast": short.StringFixed(8),
			"ema_slow": long.StringFixed(8),
		},
	}
	switch {
	case sig.Buy:
		sig.Reason = "price near long EMA support with positive momentum"
	case !momentum:
		sig.Reason = "short EMA below long EMA"
	default:
		sig.Reason = "price too far above long EMA"
	}
	return sig, nil
}

// EMA returns the exponential moving average of prices with smoothing
// 2/(period+1), seeded with the first price.
func EMA(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) == 0 || period <= 0 {
		return decimal.Zero
	}
	alpha := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	keep := decimal.NewFromInt(1).Sub(alpha)

	ema := prices[0]
	for _, p := range prices[1:] {
		ema = p.Mul(alpha).Add(ema.Mul(keep))
	}
	return ema
}
