package gateway

import (
	"strconv"

	"qrl_trader/internal/infra/cache"
)

// Logical cache keys. They stay human-readable so an operator can inspect
// and invalidate them by hand; the store adds "namespace:version:".

func TickerKey(symbol string) string {
	return "ticker:" + symbol
}

func CandlesKey(symbol, timeframe string, limit int) string {
	return "candles:" + symbol + ":" + timeframe + ":" + strconv.Itoa(limit)
}

func OrderBookKey(symbol string, depth int) string {
	return "orderbook:" + symbol + ":" + strconv.Itoa(depth)
}

func TradesKey(symbol string, limit int) string {
	return "trades:" + symbol + ":" + strconv.Itoa(limit)
}

const BalanceKey = "balance:account"

// symbolPatterns match every key carrying symbol as a whole segment.
func symbolPatterns(symbol string) []string {
	s := cache.EscapeGlob(symbol)
	return []string{"*:" + s, "*:" + s + ":*", "balance:*"}
}
