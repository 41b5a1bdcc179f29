package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrl_trader/internal/app"
	"qrl_trader/internal/domain"

	_ "net/http/pprof" // For pprof profiling
)

const usage = `usage: trader [-config path] <command> [flags]

commands:
  run                 run one trading cycle for every configured symbol
  stats               print cache statistics
  status              print positions, last cycle per symbol and pending orders
  balance             print account balances valued in the quote currency
  history [-symbol S] [-limit N]
                      print the trade ledger, newest first
  invalidate [-symbol S]
                      drop cached market data for one symbol, or everything
  stream [-pprof addr]
                      stream quotes into the ticker cache until interrupted
`

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	global := flag.NewFlagSet("trader", flag.ContinueOnError)
	configPath := global.String("config", "configs/config.yaml", "path to the YAML config")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}
	cmd, rest := global.Arg(0), global.Args()[1:]

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := app.NewBootstrap()
	defer func() {
		if err := b.Close(); err != nil {
			slog.Warn("Shutdown incomplete", slog.Any("error", err))
		}
	}()
	if err := b.Initialize(ctx, *configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		return 1
	}

	var err error
	switch cmd {
	case "run":
		err = runCycles(ctx, b)
	case "stats":
		err = printJSON(b.Reports.CacheStats(ctx))
	case "status":
		err = status(ctx, b)
	case "balance":
		err = balance(ctx, b)
	case "history":
		err = history(ctx, b, rest)
	case "invalidate":
		err = invalidate(ctx, b, rest)
	case "stream":
		err = stream(ctx, b, rest)
	default:
		global.Usage()
		return 2
	}
	if err != nil {
		slog.Error("Command failed", slog.String("command", cmd), slog.Any("error", err))
		return 1
	}
	return 0
}

var errCycleFailed = errors.New("one or more cycles failed")

func runCycles(ctx context.Context, b *app.Bootstrap) error {
	if b.Config.Stream.Enabled {
		qs, quotes := b.NewQuoteStream()
		quotes.StartTickerProcessor(ctx)
		if err := qs.Connect(ctx); err != nil {
			slog.Warn("Quote stream unavailable, using REST only", slog.Any("error", err))
		} else {
			defer qs.Disconnect()
		}
	}

	results := b.Orchestrator.RunAll(ctx, b.Config.Trading.Symbols)
	b.PushMetrics(context.WithoutCancel(ctx))

	if err := printJSON(results); err != nil {
		return err
	}
	for _, r := range results {
		if r.Outcome == domain.OutcomeFailed {
			return errCycleFailed
		}
	}
	return nil
}

func status(ctx context.Context, b *app.Bootstrap) error {
	report, err := b.Reports.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func balance(ctx context.Context, b *app.Bootstrap) error {
	report, err := b.Reports.Balance(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func history(ctx context.Context, b *app.Bootstrap, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "filter by symbol")
	limit := fs.Int("limit", 50, "maximum records, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	records, err := b.Reports.History(ctx, *symbol, *limit)
	if err != nil {
		return err
	}
	return printJSON(records)
}

func invalidate(ctx context.Context, b *app.Bootstrap, args []string) error {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "symbol to invalidate, empty for every entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol != "" {
		norm, err := domain.NormalizeSymbol(*symbol)
		if err != nil {
			return err
		}
		*symbol = norm
	}
	deleted := b.Gateway.Invalidate(ctx, *symbol)
	return printJSON(map[string]any{"symbol": *symbol, "deleted": deleted})
}

func stream(ctx context.Context, b *app.Bootstrap, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	pprofAddr := fs.String("pprof", "", "serve pprof on this address, e.g. localhost:6060")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *pprofAddr != "" {
		go func() {
			slog.Info("Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	qs, quotes := b.NewQuoteStream()
	quotes.StartTickerProcessor(ctx)
	if err := qs.Connect(ctx); err != nil {
		return err
	}
	defer qs.Disconnect()
	slog.InfoContext(ctx, "Quote stream running. Press Ctrl+C to exit.")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down gracefully...", slog.Uint64("primed", quotes.Primed()))
			b.PushMetrics(context.WithoutCancel(ctx))
			return printJSON(quotes.GetAll())
		case <-ticker.C:
			slog.Info("Quote stream alive",
				slog.Bool("connected", qs.IsConnected()),
				slog.Uint64("primed", quotes.Primed()))
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
