package strategy

import (
	"errors"
	"fmt"

	"qrl_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// SMACross buys on a golden cross: the short SMA moves from at-or-below the
// long SMA on the previous candle to above it on the last one.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new instance.
func NewSMACross(shortPeriod, longPeriod int) (*SMACross, error) {
	if shortPeriod <= 0 || shortPeriod >= longPeriod {
		return nil, errors.New("sma cross: short period must be positive and less than long period")
	}
	return &SMACross{shortPeriod: shortPeriod, longPeriod: longPeriod}, nil
}

func (s *SMACross) Name() string { return NameSMACross }

// Decide implements Strategy. It needs longPeriod+1 candles to see a cross.
func (s *SMACross) Decide(candles []domain.Candle) (domain.Signal, error) {
	need := s.longPeriod + 1
	if len(candles) < need {
		return domain.Signal{}, fmt.Errorf("%w: need %d, got %d", domain.ErrInsufficientCandles, need, len(candles))
	}

	w := newWindow(s.longPeriod)
	var prevShort, prevLong, currShort, currLong decimal.Decimal
	for _, p := range closes(candles) {
		w.push(p)
		if !w.full() {
			continue
		}
		prevShort, prevLong = currShort, currLong
		currShort, currLong = w.mean(s.shortPeriod), w.mean(s.longPeriod)
	}

	sig := domain.Signal{
		Metadata: map[string]string{
			"sma_fast": currShort.StringFixed(8),
			"sma_slow": currLong.StringFixed(8),
		},
	}
	switch {
	case prevShort.LessThanOrEqual(prevLong) && currShort.GreaterThan(currLong):
		sig.Buy = true
		sig.Reason = "golden cross"
	case prevShort.GreaterThanOrEqual(prevLong) && currShort.LessThan(currLong):
		sig.Reason = "dead cross"
	case currShort.GreaterThan(currLong):
		sig.Reason = "short SMA above long SMA, no fresh cross"
	default:
		sig.Reason = "short SMA below long SMA"
	}
	return sig, nil
}

// window is a fixed-size ring buffer of prices with a running sum.
type window struct {
	prices []decimal.Decimal
	head   int // next write position
	count  int
	sum    decimal.Decimal
}

func newWindow(size int) *window {
	return &window{prices: make([]decimal.Decimal, size)}
}

func (w *window) push(p decimal.Decimal) {
	// When full, head points at the oldest value
	if w.count == len(w.prices) {
		w.sum = w.sum.Sub(w.prices[w.head])
	} else {
		w.count++
	}
	w.prices[w.head] = p
	w.sum = w.sum.Add(p)
	w.head = (w.head + 1) % len(w.prices)
}

func (w *window) full() bool {
	return w.count == len(w.prices)
}

// mean averages the newest n prices.
func (w *window) mean(n int) decimal.Decimal {
	if n == len(w.prices) {
		return w.sum.Div(decimal.NewFromInt(int64(n)))
	}
	sum := decimal.Zero
	idx := w.head
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = len(w.prices) - 1
		}
		sum = sum.Add(w.prices[idx])
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
