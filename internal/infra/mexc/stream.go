package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	WSURL        = "wss://wbs.mexc.com/ws"
	maxRetries   = 10
	pingInterval = 20 * time.Second
	readTimeout  = 60 * time.Second
	maxSubs      = 30

	channelBookTicker = "spot@public.bookTicker.v3.api@"
	channelDeals      = "spot@public.deals.v3.api@"
)

var reconnectPolicy = infra.RetryPolicy{BaseDelay: time.Second, MaxDelay: 60 * time.Second}

// QuoteSink receives every merged quote. It must not block for long.
type QuoteSink func(ctx context.Context, t domain.Ticker)

// streamMessage is a push frame. Book ticker and deals share the envelope.
type streamMessage struct {
	Channel string          `json:"c"`
	Symbol  string          `json:"s"`
	Time    int64           `json:"t"`
	Data    json.RawMessage `json:"d"`

	// Control replies ({"id":0,"code":0,"msg":"PONG"}).
	Msg string `json:"msg"`
}

type bookTickerData struct {
	BidPrice decimal.Decimal `json:"b"`
	BidQty   decimal.Decimal `json:"B"`
	AskPrice decimal.Decimal `json:"a"`
	AskQty   decimal.Decimal `json:"A"`
}

type dealsData struct {
	Deals []struct {
		Price    decimal.Decimal `json:"p"`
		Quantity decimal.Decimal `json:"v"`
		Side     int             `json:"S"`
		Time     int64           `json:"t"`
	} `json:"deals"`
}

// QuoteStream keeps the ticker cache warm from the public websocket. It
// merges best bid/ask with the last deal price and hands each update to sink.
type QuoteStream struct {
	url     string
	symbols map[string]string // exchange symbol -> unified symbol
	sink    QuoteSink
	metrics *infra.Metrics
	logger  *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	quotesMu sync.Mutex
	quotes   map[string]domain.Ticker
}

// NewQuoteStream creates a stream for the configured symbols.
func NewQuoteStream(cfg *infra.Config, sink QuoteSink, metrics *infra.Metrics) *QuoteStream {
	url := cfg.API.WSURL
	if url == "" {
		url = WSURL
	}
	symbols := make(map[string]string, len(cfg.Trading.Symbols))
	for _, s := range cfg.Trading.Symbols {
		symbols[domain.ExchangeSymbol(s)] = s
	}
	return &QuoteStream{
		url:     url,
		symbols: symbols,
		sink:    sink,
		metrics: metrics,
		logger:  slog.Default().With("module", "mexc_stream"),
		quotes:  make(map[string]domain.Ticker),
	}
}

// Connect starts the connection loop in the background.
func (s *QuoteStream) Connect(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return fmt.Errorf("quote stream: no symbols")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
	return nil
}

// IsConnected reports whether a websocket session is live.
func (s *QuoteStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *QuoteStream) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			s.logger.Warn("MEXC stream connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := reconnectPolicy.Backoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			if infra.SleepContext(ctx, delay) != nil {
				return
			}
			continue
		}

		retryCount = 0
		pingCtx, stopPing := context.WithCancel(ctx)
		go s.pingLoop(pingCtx)
		s.readLoop(ctx)
		stopPing()
	}
}

func (s *QuoteStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Set("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		return err
	}

	s.metrics.SetStreamConnected(true)
	s.logger.Info("MEXC stream connected", slog.Int("subs", len(s.symbols)))
	return nil
}

func (s *QuoteStream) subscribe() error {
	params := make([]string, 0, 2*len(s.symbols))
	for sym := range s.symbols {
		params = append(params, channelBookTicker+sym, channelDeals+sym)
	}
	if len(params) > maxSubs {
		params = params[:maxSubs]
	}

	b, err := json.Marshal(map[string]any{"method": "SUBSCRIPTION", "params": params})
	if err != nil {
		return err
	}
	return s.threadSafeWrite(websocket.TextMessage, b)
}

func (s *QuoteStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.threadSafeWrite(websocket.TextMessage, []byte(`{"method":"PING"}`)); err != nil {
				return
			}
		}
	}
}

func (s *QuoteStream) threadSafeWrite(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return fmt.Errorf("no conn")
	}
	return s.conn.WriteMessage(msgType, data)
}

func (s *QuoteStream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.closeConnection()
			return
		}
		s.handleMessage(ctx, msg)
	}
}

func (s *QuoteStream) handleMessage(ctx context.Context, msg []byte) {
	var m streamMessage
	if json.Unmarshal(msg, &m) != nil || m.Channel == "" {
		return
	}
	unified, ok := s.symbols[strings.ToUpper(m.Symbol)]
	if !ok {
		return
	}

	s.quotesMu.Lock()
	q := s.quotes[unified]
	q.Symbol = unified

	switch {
	case strings.HasPrefix(m.Channel, channelBookTicker):
		var d bookTickerData
		if json.Unmarshal(m.Data, &d) != nil {
			s.quotesMu.Unlock()
			return
		}
		q.Bid, q.Ask = d.BidPrice, d.AskPrice
	case strings.HasPrefix(m.Channel, channelDeals):
		var d dealsData
		if json.Unmarshal(m.Data, &d) != nil || len(d.Deals) == 0 {
			s.quotesMu.Unlock()
			return
		}
		latest := d.Deals[0]
		for _, deal := range d.Deals[1:] {
			if deal.Time > latest.Time {
				latest = deal
			}
		}
		q.Last = latest.Price
	default:
		s.quotesMu.Unlock()
		return
	}

	q.FetchedAt = time.Now().UTC()
	if m.Time > 0 {
		q.FetchedAt = time.UnixMilli(m.Time).UTC()
	}
	s.quotes[unified] = q
	s.quotesMu.Unlock()

	s.metrics.RecordStreamQuote()
	// Only complete quotes reach the sink; a bid/ask without a trade price is
	// not a usable ticker.
	if q.Last.IsPositive() && s.sink != nil {
		s.sink(ctx, q)
	}
}

// Quote returns the latest merged quote for symbol.
func (s *QuoteStream) Quote(symbol string) (domain.Ticker, bool) {
	s.quotesMu.Lock()
	defer s.quotesMu.Unlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

func (s *QuoteStream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.connected {
		s.metrics.SetStreamConnected(false)
	}
	s.connected = false
}

// Disconnect stops the loop and waits for it to exit.
func (s *QuoteStream) Disconnect() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}
