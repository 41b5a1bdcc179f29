package mexc

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"qrl_trader/internal/domain"
)

// Ticker fetches the 24h rolling ticker of symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", domain.ExchangeSymbol(symbol))

	var resp tickerResponse
	if err := c.get(ctx, "ticker", "/api/v3/ticker/24hr", params, false, &resp); err != nil {
		return domain.Ticker{}, err
	}
	return resp.toDomain(symbol, time.Now().UTC()), nil
}

// Klines fetches up to limit candles, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", domain.ExchangeSymbol(symbol))
	params.Set("interval", interval(timeframe))
	params.Set("limit", strconv.Itoa(limit))

	var rows []klineRow
	if err := c.get(ctx, "klines", "/api/v3/klines", params, false, &rows); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := row.toDomain()
		if err != nil {
			return nil, &domain.RequestError{Op: "klines", Msg: fmt.Sprintf("row %d: %v", i, err)}
		}
		candles = append(candles, candle)
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	return candles, nil
}

// Depth fetches the top limit levels of each book side.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (domain.OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", domain.ExchangeSymbol(symbol))
	params.Set("limit", strconv.Itoa(limit))

	var resp depthResponse
	if err := c.get(ctx, "depth", "/api/v3/depth", params, false, &resp); err != nil {
		return domain.OrderBook{}, err
	}
	return domain.OrderBook{
		Symbol:    symbol,
		Bids:      resp.Bids.toDomain(),
		Asks:      resp.Asks.toDomain(),
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Trades fetches the most recent public trades ("deals").
func (c *Client) Trades(ctx context.Context, symbol string, limit int) (domain.RecentTrades, error) {
	params := url.Values{}
	params.Set("symbol", domain.ExchangeSymbol(symbol))
	params.Set("limit", strconv.Itoa(limit))

	var rows []tradeRow
	if err := c.get(ctx, "trades", "/api/v3/trades", params, false, &rows); err != nil {
		return domain.RecentTrades{}, err
	}

	trades := make([]domain.PublicTrade, len(rows))
	for i, r := range rows {
		trades[i] = domain.PublicTrade{
			ID:           strconv.FormatInt(r.Time, 10) + "-" + strconv.Itoa(i),
			Price:        r.Price,
			Quantity:     r.Qty,
			QuoteQty:     r.QuoteQty,
			Time:         time.UnixMilli(r.Time).UTC(),
			IsBuyerMaker: r.IsBuyerMaker,
		}
	}
	return domain.RecentTrades{Symbol: symbol, Trades: trades, FetchedAt: time.Now().UTC()}, nil
}

// Account fetches spot balances (signed).
func (c *Client) Account(ctx context.Context) (domain.AccountBalance, error) {
	var resp accountResponse
	if err := c.get(ctx, "account", "/api/v3/account", url.Values{}, true, &resp); err != nil {
		return domain.AccountBalance{}, err
	}

	bal := domain.AccountBalance{
		Assets:    make(map[string]domain.AssetBalance, len(resp.Balances)),
		FetchedAt: time.Now().UTC(),
	}
	for _, b := range resp.Balances {
		bal.Assets[strings.ToUpper(b.Asset)] = domain.AssetBalance{Free: b.Free, Locked: b.Locked}
	}
	return bal, nil
}
