package mexc

import (
	"encoding/json"
	"fmt"
	"time"

	"qrl_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// Wire formats of the MEXC spot v3 API. Decimal fields arrive as JSON strings.

type tickerResponse struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	BidPrice           decimal.Decimal `json:"bidPrice"`
	AskPrice           decimal.Decimal `json:"askPrice"`
	Volume             decimal.Decimal `json:"volume"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	CloseTime          int64           `json:"closeTime"`
}

func (t tickerResponse) toDomain(symbol string, now time.Time) domain.Ticker {
	return domain.Ticker{
		Symbol:    symbol,
		Last:      t.LastPrice,
		Bid:       t.BidPrice,
		Ask:       t.AskPrice,
		Volume:    t.Volume,
		ChangePct: t.PriceChangePercent.Mul(decimal.NewFromInt(100)),
		FetchedAt: now,
	}
}

// kline rows are positional: [openTime, open, high, low, close, volume, closeTime, quoteVolume].
type klineRow []json.RawMessage

func (r klineRow) toDomain() (domain.Candle, error) {
	if len(r) < 8 {
		return domain.Candle{}, fmt.Errorf("kline row has %d fields, want 8", len(r))
	}
	var c domain.Candle
	var openMs, closeMs int64
	if err := json.Unmarshal(r[0], &openMs); err != nil {
		return c, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(r[6], &closeMs); err != nil {
		return c, fmt.Errorf("close time: %w", err)
	}
	fields := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, f := range fields {
		if err := f.UnmarshalJSON(r[i+1]); err != nil {
			return c, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	if err := c.QuoteVolume.UnmarshalJSON(r[7]); err != nil {
		return c, fmt.Errorf("quote volume: %w", err)
	}
	c.OpenTime = time.UnixMilli(openMs).UTC()
	c.CloseTime = time.UnixMilli(closeMs).UTC()
	return c, nil
}

// levels are [price, quantity] string pairs.
type levels [][2]decimal.Decimal

func (l levels) toDomain() []domain.BookLevel {
	out := make([]domain.BookLevel, len(l))
	for i, lv := range l {
		out[i] = domain.BookLevel{Price: lv[0], Quantity: lv[1]}
	}
	return out
}

type depthResponse struct {
	LastUpdateID int64  `json:"lastUpdateId"`
	Bids         levels `json:"bids"`
	Asks         levels `json:"asks"`
}

type tradeRow struct {
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	QuoteQty     decimal.Decimal `json:"quoteQty"`
	Time         int64           `json:"time"`
	IsBuyerMaker bool            `json:"isBuyerMaker"`
}

type accountResponse struct {
	CanTrade bool `json:"canTrade"`
	Balances []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

type orderResponse struct {
	Symbol        string          `json:"symbol"`
	OrderID       string          `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	Status        string          `json:"status"`
	Side          string          `json:"side"`
}

func (o orderResponse) toDomain(symbol string) domain.OrderAck {
	return domain.OrderAck{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          o.Side,
		Price:         o.Price,
		Quantity:      o.OrigQty,
		ExecutedQty:   o.ExecutedQty,
		Status:        o.Status,
	}
}

// interval maps configured timeframes to MEXC interval names.
func interval(tf string) string {
	switch tf {
	case "1h":
		return "60m"
	case "1w":
		return "1W"
	default:
		return tf
	}
}
