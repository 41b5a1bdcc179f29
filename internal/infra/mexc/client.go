package mexc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/infra"
)

// BaseURL is the public MEXC spot REST host.
const BaseURL = "https://api.mexc.com"

const maxBodyBytes = 4 << 20

// Client is the MEXC spot v3 REST client. It performs exactly one HTTP
// round-trip per call; retries and throttling belong to the caller.
type Client struct {
	baseURL    string
	subaccount string
	httpClient *http.Client
	signer     *Signer
	metrics    *infra.Metrics
	logger     *slog.Logger
}

// NewClient creates a new MEXC API client.
func NewClient(cfg *infra.Config, metrics *infra.Metrics) *Client {
	baseURL := cfg.API.RestURL
	if baseURL == "" {
		baseURL = BaseURL
	}

	return &Client{
		baseURL:    baseURL,
		subaccount: cfg.API.Subaccount,
		httpClient: &http.Client{
			// Backstop only; callers put a tighter deadline on ctx.
			Timeout: cfg.API.RequestTimeout + time.Second,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:  NewSigner(cfg.API.AccessKey, cfg.API.SecretKey, cfg.API.RecvWindow),
		metrics: metrics,
		logger:  slog.Default().With("module", "mexc_client"),
	}
}

// apiError is the MEXC error body.
type apiError struct {
	Code json.Number `json:"code"`
	Msg  string      `json:"msg"`
}

// response is one completed HTTP exchange.
type response struct {
	status int
	body   []byte
}

// transportError is a failure before any HTTP status was received.
// sent is false only when the request provably never left this host.
type transportError struct {
	err  error
	sent bool
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// doRequest handles auth headers and serialization
func (c *Client) doRequest(ctx context.Context, op, method, path string, params url.Values, signed bool) (*response, error) {
	if signed && !c.signer.HasCredentials() {
		return nil, &domain.RequestError{Op: op, Msg: "api credentials not configured"}
	}

	query := ""
	if signed {
		query = c.signer.Sign(params)
	} else if len(params) > 0 {
		query = params.Encode()
	}

	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, &domain.RequestError{Op: op, Msg: err.Error()}
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	if signed {
		for k, v := range c.signer.Headers() {
			req.Header.Set(k, v)
		}
	}
	if c.subaccount != "" {
		req.Header.Set("source", c.subaccount)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRequest(op, time.Since(start), err)
		return nil, &transportError{err: err, sent: !isPreSend(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.metrics.RecordRequest(op, time.Since(start), err)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("read body: %w", err), sent: true}
	}

	c.logger.Debug("request completed",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)))

	return &response{status: resp.StatusCode, body: body}, nil
}

// isPreSend reports whether err happened while connecting, so the request
// cannot have reached the exchange.
func isPreSend(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// readError classifies a failed read. Transport failures, 429 and 5xx are
// transient; any other non-200 is a RequestError. A read abandoned by its
// caller is not retried.
func readError(op string, resp *response, err error) error {
	if err != nil {
		var te *transportError
		if errors.As(err, &te) {
			if errors.Is(te.err, context.Canceled) {
				return domain.NewFatalNetworkError(op, te.err)
			}
			return domain.NewNetworkError(op, te.err)
		}
		return err
	}
	switch {
	case resp.status == http.StatusOK:
		return nil
	case resp.status == http.StatusTooManyRequests || resp.status >= 500:
		return domain.NewNetworkError(op, fmt.Errorf("status %d: %s", resp.status, truncate(resp.body)))
	default:
		return requestError(op, resp)
	}
}

func requestError(op string, resp *response) *domain.RequestError {
	re := &domain.RequestError{Op: op, Status: resp.status}
	var body apiError
	if json.Unmarshal(resp.body, &body) == nil {
		re.Code = body.Code.String()
		re.Msg = body.Msg
	} else {
		re.Msg = truncate(resp.body)
	}
	return re
}

// get performs a read and decodes the 200 body into dst.
func (c *Client) get(ctx context.Context, op, path string, params url.Values, signed bool, dst any) error {
	resp, err := c.doRequest(ctx, op, http.MethodGet, path, params, signed)
	if err := readError(op, resp, err); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, dst); err != nil {
		// A 200 we cannot parse will not parse on retry either.
		return &domain.RequestError{Op: op, Status: resp.status, Msg: "decode response: " + err.Error()}
	}
	return nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
