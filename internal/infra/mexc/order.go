package mexc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"qrl_trader/internal/domain"
)

// codeOrderNotFound is returned by GET /api/v3/order for an unknown order.
const codeOrderNotFound = "-2013"

// PlaceOrder submits a limit order once. It never retries. Failures that may
// have happened after the exchange received the request come back as
// *domain.AmbiguousOrderError; failures known to be pre-send are a
// *domain.NetworkError or *domain.RequestError.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	const op = "place_order"

	if !domain.ValidSide(req.Side) {
		return domain.OrderAck{}, &domain.RequestError{Op: op, Msg: "invalid side " + req.Side}
	}
	if !req.Price.IsPositive() || !req.Quantity.IsPositive() {
		return domain.OrderAck{}, &domain.RequestError{Op: op, Msg: "price and quantity must be positive"}
	}

	params := url.Values{}
	params.Set("symbol", domain.ExchangeSymbol(req.Symbol))
	params.Set("side", req.Side)
	params.Set("type", domain.OrderTypeLimit)
	params.Set("price", req.Price.String())
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", req.ClientOrderID)

	ambiguous := func(err error) error {
		return &domain.AmbiguousOrderError{ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, Err: err}
	}

	resp, err := c.doRequest(ctx, op, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		var te *transportError
		if errors.As(err, &te) {
			if te.sent {
				return domain.OrderAck{}, ambiguous(te.err)
			}
			return domain.OrderAck{}, domain.NewNetworkError(op, te.err)
		}
		return domain.OrderAck{}, err
	}

	switch {
	case resp.status == http.StatusTooManyRequests:
		// Rate-limited requests are rejected before matching.
		return domain.OrderAck{}, domain.NewNetworkError(op, fmt.Errorf("status %d: %s", resp.status, truncate(resp.body)))
	case resp.status >= 500:
		return domain.OrderAck{}, ambiguous(fmt.Errorf("status %d: %s", resp.status, truncate(resp.body)))
	case resp.status != http.StatusOK:
		return domain.OrderAck{}, requestError(op, resp)
	}

	var body orderResponse
	if err := json.Unmarshal(resp.body, &body); err != nil || body.OrderID == "" {
		// Accepted with a body we cannot read: only a lookup can tell.
		return domain.OrderAck{}, ambiguous(fmt.Errorf("unreadable acknowledgement: %s", truncate(resp.body)))
	}

	ack := body.toDomain(req.Symbol)
	if ack.ClientOrderID == "" {
		ack.ClientOrderID = req.ClientOrderID
	}
	if ack.Side == "" {
		ack.Side = req.Side
	}
	if ack.Status == "" {
		ack.Status = domain.OrderStatusNew
	}
	if ack.Price.IsZero() {
		ack.Price = req.Price
	}
	if ack.Quantity.IsZero() {
		ack.Quantity = req.Quantity
	}

	c.logger.Info("Order Placed Successfully",
		slog.String("order_id", ack.OrderID),
		slog.String("client_order_id", ack.ClientOrderID),
		slog.String("symbol", req.Symbol))
	return ack, nil
}

// QueryOrder looks an order up by client order id.
func (c *Client) QueryOrder(ctx context.Context, symbol, clientOrderID string) (domain.OrderAck, error) {
	const op = "query_order"

	params := url.Values{}
	params.Set("symbol", domain.ExchangeSymbol(symbol))
	params.Set("origClientOrderId", clientOrderID)

	var body orderResponse
	err := c.get(ctx, op, "/api/v3/order", params, true, &body)
	var re *domain.RequestError
	if errors.As(err, &re) && re.Code == codeOrderNotFound {
		return domain.OrderAck{}, fmt.Errorf("%s: %w", clientOrderID, domain.ErrOrderNotFound)
	}
	if err != nil {
		return domain.OrderAck{}, err
	}
	return body.toDomain(symbol), nil
}
