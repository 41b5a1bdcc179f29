package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime    time.Time       `json:"open_time"`
	CloseTime   time.Time       `json:"close_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
}

// MarketSnapshot holds candles for one symbol, ordered oldest to newest.
// A snapshot is never modified after it is produced; Candles returns a copy.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Bars      []Candle  `json:"candles"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Candles returns a copy of the bars so callers cannot mutate the snapshot.
func (m MarketSnapshot) Candles() []Candle {
	out := make([]Candle, len(m.Bars))
	copy(out, m.Bars)
	return out
}

// Last returns the newest candle.
func (m MarketSnapshot) Last() (Candle, bool) {
	if len(m.Bars) == 0 {
		return Candle{}, false
	}
	return m.Bars[len(m.Bars)-1], true
}

// NormalizeSymbol upper-cases a "BASE/QUOTE" pair and validates its shape.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	base, quote, ok := strings.Cut(s, "/")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// ExchangeSymbol converts "QRL/USDT" into the exchange wire form "QRLUSDT".
func ExchangeSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(symbol), "/", "")
}

// BaseAsset returns "QRL" for "QRL/USDT".
func BaseAsset(symbol string) string {
	base, _, _ := strings.Cut(symbol, "/")
	return base
}

// QuoteAsset returns "USDT" for "QRL/USDT".
func QuoteAsset(symbol string) string {
	_, quote, _ := strings.Cut(symbol, "/")
	return quote
}

// TimeframeDuration maps an exchange interval ("1m", "4h", "1d", ...) to its length.
func TimeframeDuration(tf string) (time.Duration, error) {
	switch tf {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "60m", "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	case "1W":
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
}
