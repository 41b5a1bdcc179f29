package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money columns are stored as TEXT so SQLite's numeric affinity never rounds them.

// Position is the current quote-currency exposure of one symbol.
type Position struct {
	Symbol        string          `gorm:"primaryKey" json:"symbol"`
	ExposureQuote decimal.Decimal `gorm:"type:text;not null" json:"exposure_quote"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TradeRecord is one entry of the append-only trade ledger.
type TradeRecord struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID       string          `gorm:"index" json:"order_id"`
	ClientOrderID string          `gorm:"uniqueIndex" json:"client_order_id"`
	Symbol        string          `gorm:"index:idx_trade_symbol_created,priority:1;not null" json:"symbol"`
	Side          string          `gorm:"size:4;not null" json:"side"`
	Price         decimal.Decimal `gorm:"type:text;not null" json:"price"`
	Quantity      decimal.Decimal `gorm:"type:text;not null" json:"quantity"`
	CostQuote     decimal.Decimal `gorm:"type:text;not null" json:"cost_quote"`
	Strategy      string          `json:"strategy"`
	CreatedAt     time.Time       `gorm:"index:idx_trade_symbol_created,priority:2" json:"created_at"`
}

// PendingOrder is an order whose submission outcome is unknown.
type PendingOrder struct {
	ClientOrderID string          `gorm:"primaryKey" json:"client_order_id"`
	Symbol        string          `gorm:"index;not null" json:"symbol"`
	Side          string          `gorm:"size:4;not null" json:"side"`
	Price         decimal.Decimal `gorm:"type:text;not null" json:"price"`
	Quantity      decimal.Decimal `gorm:"type:text;not null" json:"quantity"`
	Strategy      string          `json:"strategy"`
	Reason        string          `json:"reason"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CycleRun records the outcome of one trading cycle.
type CycleRun struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol        string    `gorm:"index;not null" json:"symbol"`
	Outcome       string    `gorm:"not null" json:"outcome"`
	Reason        string    `json:"reason"`
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Fill is the input to a ledger write: one confirmed execution.
type Fill struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Strategy      string
}

// Cost returns price * quantity.
func (f Fill) Cost() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}
