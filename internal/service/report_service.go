package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/infra"
	"qrl_trader/internal/infra/cache"
	"qrl_trader/internal/risk"

	"github.com/shopspring/decimal"
)

// ReportStore is the read side of the position store used for reports.
type ReportStore interface {
	ListPositions(ctx context.Context) ([]domain.Position, error)
	ListPending(ctx context.Context, symbol string) ([]domain.PendingOrder, error)
	LastCycleRuns(ctx context.Context) ([]domain.CycleRun, error)
	GetHistory(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error)
}

// MarketReader is the gateway surface the reports read from.
type MarketReader interface {
	CacheStats(ctx context.Context) cache.Stats
	FetchTicker(ctx context.Context, symbol string, useCache bool) (domain.Ticker, error)
	FetchBalance(ctx context.Context, useCache bool) (domain.AccountBalance, error)
}

// PositionReport is one symbol's exposure against its limit.
type PositionReport struct {
	Symbol         string          `json:"symbol"`
	BaseAsset      string          `json:"base_asset"`
	QuoteAsset     string          `json:"quote_asset"`
	ExposureQuote  decimal.Decimal `json:"exposure_quote"`
	MaxPosition    decimal.Decimal `json:"max_position_quote"`
	UtilizationPct decimal.Decimal `json:"utilization_pct"`
	Capacity       decimal.Decimal `json:"capacity_quote"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StatusReport is the operator view of the trader.
type StatusReport struct {
	Positions []PositionReport      `json:"positions"`
	LastRuns  []domain.CycleRun     `json:"last_runs"`
	Pending   []domain.PendingOrder `json:"pending_orders"`
}

// AssetReport is one held asset valued in the quote currency.
type AssetReport struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
	Priced bool            `json:"priced"`
}

// BalanceReport is the account valued in the quote currency.
type BalanceReport struct {
	Quote       string          `json:"quote"`
	Assets      []AssetReport   `json:"assets"`
	TotalEquity decimal.Decimal `json:"total_equity"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

// ReportService assembles read-only reports for the CLI.
type ReportService struct {
	cfg    infra.TradingConfig
	store  ReportStore
	market MarketReader
	logger *slog.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(cfg infra.TradingConfig, store ReportStore, market MarketReader) *ReportService {
	return &ReportService{
		cfg:    cfg,
		store:  store,
		market: market,
		logger: slog.Default().With("module", "report"),
	}
}

// Status returns positions with their utilization, the last cycle of every
// symbol, and orders awaiting reconciliation.
func (s *ReportService) Status(ctx context.Context) (StatusReport, error) {
	positions, err := s.store.ListPositions(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("list positions: %w", err)
	}
	runs, err := s.store.LastCycleRuns(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("last cycle runs: %w", err)
	}
	pending, err := s.store.ListPending(ctx, "")
	if err != nil {
		return StatusReport{}, fmt.Errorf("list pending: %w", err)
	}

	report := StatusReport{
		Positions: make([]PositionReport, 0, len(positions)),
		LastRuns:  runs,
		Pending:   pending,
	}
	for _, p := range positions {
		limit := s.cfg.MaxPositionFor(p.Symbol)
		report.Positions = append(report.Positions, PositionReport{
			Symbol:         p.Symbol,
			BaseAsset:      domain.BaseAsset(p.Symbol),
			QuoteAsset:     domain.QuoteAsset(p.Symbol),
			ExposureQuote:  p.ExposureQuote,
			MaxPosition:    limit,
			UtilizationPct: risk.Utilization(p.ExposureQuote, limit),
			Capacity:       risk.Capacity(p.ExposureQuote, limit),
			UpdatedAt:      p.UpdatedAt,
		})
	}
	return report, nil
}

// History returns the trade ledger, newest first.
func (s *ReportService) History(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	if symbol != "" {
		norm, err := domain.NormalizeSymbol(symbol)
		if err != nil {
			return nil, err
		}
		symbol = norm
	}
	return s.store.GetHistory(ctx, symbol, limit)
}

// CacheStats returns the cache statistics.
func (s *ReportService) CacheStats(ctx context.Context) cache.Stats {
	return s.market.CacheStats(ctx)
}

// Balance fetches the account and values every held asset at the mid price
// of its pair against the quote currency of the first configured symbol.
// Assets without a quotable pair are listed unpriced and left out of equity.
func (s *ReportService) Balance(ctx context.Context) (BalanceReport, error) {
	bal, err := s.market.FetchBalance(ctx, false)
	if err != nil {
		return BalanceReport{}, fmt.Errorf("fetch balance: %w", err)
	}

	quote := "USDT"
	if len(s.cfg.Symbols) > 0 {
		if q := domain.QuoteAsset(s.cfg.Symbols[0]); q != "" {
			quote = q
		}
	}

	held := bal.NonZero()
	report := BalanceReport{Quote: quote, Assets: make([]AssetReport, 0, len(held)), FetchedAt: bal.FetchedAt}
	prices := make(map[string]decimal.Decimal, len(held))
	for _, asset := range held {
		b := bal.Get(asset)
		row := AssetReport{Asset: asset, Free: b.Free, Locked: b.Locked}
		switch asset {
		case quote:
			row.Price, row.Priced = decimal.NewFromInt(1), true
		default:
			t, err := s.market.FetchTicker(ctx, asset+"/"+quote, true)
			if err != nil {
				s.logger.Warn("asset left unpriced", slog.String("asset", asset), slog.Any("error", err))
				break
			}
			if mid := t.Mid(); mid.IsPositive() {
				row.Price, row.Priced = mid, true
				prices[asset] = mid
			}
		}
		if row.Priced {
			row.Value = b.Total().Mul(row.Price)
		}
		report.Assets = append(report.Assets, row)
	}
	report.TotalEquity = bal.CalculateTotalEquity(quote, prices)
	return report, nil
}
