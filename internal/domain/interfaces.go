package domain

import (
	"context"
)

// ExchangeWorker defines the interface for exchange WebSocket connectors
type ExchangeWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// MarketDataSource is the raw, uncached market-data transport of an exchange.
type MarketDataSource interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	Depth(ctx context.Context, symbol string, limit int) (OrderBook, error)
	Trades(ctx context.Context, symbol string, limit int) (RecentTrades, error)
	Account(ctx context.Context) (AccountBalance, error)
}

// OrderRouter submits and looks up orders.
type OrderRouter interface {
	// PlaceOrder submits a limit order exactly once.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// QueryOrder looks an order up by client order id. Returns ErrOrderNotFound
	// when the exchange has no record of it.
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (OrderAck, error)
}

// Exchange is the full transport the gateway sits on.
type Exchange interface {
	MarketDataSource
	OrderRouter
}
