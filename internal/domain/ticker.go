package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker represents the live quote of a single symbol
type Ticker struct {
	Symbol    string          `json:"symbol"` // Unified symbol (e.g., "QRL/USDT")
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`      // 24h base volume
	ChangePct decimal.Decimal `json:"change_rate"` // 24h change (%)
	FetchedAt time.Time       `json:"fetched_at"`
}

// Mid returns (bid+ask)/2, or Last when either side is missing.
func (t Ticker) Mid() decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return t.Last
	}
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// BookLevel is one price level of an order book.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"qty"`
}

// OrderBook is a depth snapshot. Bids are best-first (descending), asks ascending.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// PublicTrade is one print from the public trade feed ("deals").
type PublicTrade struct {
	ID           string          `json:"id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"qty"`
	QuoteQty     decimal.Decimal `json:"quote_qty"`
	Time         time.Time       `json:"time"`
	IsBuyerMaker bool            `json:"is_buyer_maker"`
}

// RecentTrades is the latest public trades of a symbol, newest last.
type RecentTrades struct {
	Symbol    string        `json:"symbol"`
	Trades    []PublicTrade `json:"trades"`
	FetchedAt time.Time     `json:"fetched_at"`
}
