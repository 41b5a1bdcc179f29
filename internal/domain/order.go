package domain

import (
	"github.com/shopspring/decimal"
)

// OrderRequest is a limit order about to be submitted.
// ClientOrderID is generated before submission so an ambiguous outcome can be looked up later.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string // "BUY", "SELL"
	Price         decimal.Decimal
	Quantity      decimal.Decimal
}

// Cost returns price * quantity in the quote currency.
func (r OrderRequest) Cost() decimal.Decimal {
	return r.Price.Mul(r.Quantity)
}

// OrderAck is the exchange's view of a submitted order.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ExecutedQty   decimal.Decimal
	Status        string
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
)

// WasAccepted reports whether the exchange took the order onto its book.
// A canceled order counts as accepted only if something executed before the cancel.
func (o *OrderAck) WasAccepted() bool {
	switch o.Status {
	case OrderStatusRejected:
		return false
	case OrderStatusCanceled:
		return o.ExecutedQty.IsPositive()
	default:
		return true
	}
}

// ValidSide reports whether s is BUY or SELL.
func ValidSide(s string) bool {
	return s == SideBuy || s == SideSell
}
