package app

import (
	"context"
	"errors"
	"log/slog"

	"qrl_trader/internal/domain"
	"qrl_trader/internal/engine"
	"qrl_trader/internal/gateway"
	"qrl_trader/internal/infra"
	"qrl_trader/internal/infra/cache"
	"qrl_trader/internal/infra/mexc"
	"qrl_trader/internal/infra/storage"
	"qrl_trader/internal/risk"
	"qrl_trader/internal/service"
	"qrl_trader/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config       *infra.Config
	Metrics      *infra.Metrics
	Storage      *storage.Storage
	Cache        *cache.Store
	Client       *mexc.Client
	Gateway      *gateway.Gateway
	Orchestrator *engine.Orchestrator
	Reports      *service.ReportService
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// LoadConfig reads the configuration and installs the logger.
func (b *Bootstrap) LoadConfig(path string) error {
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg
	slog.SetDefault(infra.NewLogger(cfg))
	b.Metrics = infra.NewMetrics()
	return nil
}

// Initialize performs core system initialization: config, logger, storage,
// cache, exchange client, gateway, strategy and orchestrator.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	// 1. Load Config + Logger
	if err := b.LoadConfig(configPath); err != nil {
		return err
	}
	cfg := b.Config
	slog.Info("Bootstrapping trader", slog.Any("symbols", cfg.Trading.Symbols))

	// 2. Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized", slog.String("path", cfg.Storage.Path))

	// 3. Cache (soft dependency: an unreachable backend only degrades)
	cacheStore, err := cache.Open(ctx, cfg.Cache, b.Metrics, slog.Default())
	if err != nil {
		return err
	}
	b.Cache = cacheStore

	// 4. Exchange client + gateway
	b.Client = mexc.NewClient(cfg, b.Metrics)
	gw, err := gateway.New(b.Client, cacheStore, cfg, gateway.Options{Metrics: b.Metrics})
	if err != nil {
		return err
	}
	b.Gateway = gw

	// 5. Strategy, risk, orchestrator
	strat, err := strategy.Build(cfg.Trading.Strategy)
	if err != nil {
		return &domain.ConfigError{Field: "trading.strategy", Err: err}
	}
	gate := risk.NewGate(cfg.Trading, store)
	b.Orchestrator = engine.NewOrchestrator(cfg.Trading, gw, store, gate, strat, engine.Options{Metrics: b.Metrics})
	b.Reports = service.NewReportService(cfg.Trading, store, gw)

	slog.Info("Trader ready",
		slog.String("strategy", strat.Name()),
		slog.Bool("cache_enabled", cacheStore.Enabled()),
		slog.String("cache_prefix", cacheStore.Prefix()))
	return nil
}

// NewQuoteStream wires the websocket stream into a QuoteService priming the
// ticker cache.
func (b *Bootstrap) NewQuoteStream() (domain.ExchangeWorker, *service.QuoteService) {
	quotes := service.NewQuoteService(b.Gateway)
	return mexc.NewQuoteStream(b.Config, quotes.Sink, b.Metrics), quotes
}

// PushMetrics sends the collected metrics to the Pushgateway, if configured.
func (b *Bootstrap) PushMetrics(ctx context.Context) {
	if b.Config == nil || b.Config.Metrics.PushgatewayURL == "" {
		return
	}
	if err := b.Metrics.Push(ctx, b.Config.Metrics.PushgatewayURL, b.Config.Metrics.Job); err != nil {
		slog.Warn("Metrics push failed", slog.Any("error", err))
	}
}

// Close releases storage and cache.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Cache != nil {
		errs = append(errs, b.Cache.Close())
	}
	if b.Storage != nil {
		errs = append(errs, b.Storage.Close())
	}
	return errors.Join(errs...)
}
