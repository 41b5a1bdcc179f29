package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"qrl_trader/internal/domain"
)

// QuotePrimer stores a quote where the next ticker read will find it.
type QuotePrimer interface {
	Prime(ctx context.Context, t domain.Ticker) bool
}

// QuoteService keeps the latest streamed quote per symbol and pushes each one
// into the ticker cache.
type QuoteService struct {
	mu     sync.RWMutex
	quotes map[string]domain.Ticker
	primed uint64

	primer     QuotePrimer
	tickerChan chan domain.Ticker
	logger     *slog.Logger
}

// NewQuoteService creates a new QuoteService. primer may be nil.
func NewQuoteService(primer QuotePrimer) *QuoteService {
	return &QuoteService{
		quotes:     make(map[string]domain.Ticker),
		primer:     primer,
		tickerChan: make(chan domain.Ticker, 1000), // absorbs bursts from the stream
		logger:     slog.Default().With(slog.String("module", "quotes")),
	}
}

// Sink is the callback handed to the quote stream. It never blocks: when the
// buffer is full the quote is dropped, a newer one follows shortly.
func (s *QuoteService) Sink(_ context.Context, t domain.Ticker) {
	select {
	case s.tickerChan <- t:
	default:
		s.logger.Debug("quote buffer full, dropping", slog.String("symbol", t.Symbol))
	}
}

// StartTickerProcessor drains the buffer in the background until ctx is done.
func (s *QuoteService) StartTickerProcessor(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-s.tickerChan:
				s.ProcessTicker(ctx, t)
			}
		}
	}()
}

// ProcessTicker records t and primes the cache with it.
func (s *QuoteService) ProcessTicker(ctx context.Context, t domain.Ticker) {
	s.mu.Lock()
	s.quotes[t.Symbol] = t
	s.mu.Unlock()

	if s.primer != nil && s.primer.Prime(ctx, t) {
		s.mu.Lock()
		s.primed++
		s.mu.Unlock()
	}
}

// Get returns the latest quote of symbol.
func (s *QuoteService) Get(symbol string) (domain.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.quotes[symbol]
	return t, ok
}

// GetAll returns the latest quotes sorted by symbol.
func (s *QuoteService) GetAll() []domain.Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Ticker, 0, len(s.quotes))
	for _, t := range s.quotes {
		result = append(result, t)
	}

	// Sort by symbol for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result
}

// Primed returns how many quotes reached the cache.
func (s *QuoteService) Primed() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primed
}
