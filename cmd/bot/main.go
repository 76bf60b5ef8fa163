// Directional scalping engine for a centralized USDⓈ-M perpetual futures
// venue.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the dispatcher, waits for SIGINT/SIGTERM
//	dispatcher/dispatcher.go — orchestrator: single-consumer event loop wiring transport → aggregator → signalengine → risk → accounting → oms/exchange
//	transport/market.go      — public combined-stream feed (aggTrade + bookTicker), exponential reconnect
//	transport/user.go        — authenticated user-data feed bound to a rotating listenKey, fixed reconnect delay
//	aggregator/aggregator.go — notional-bucketed volume bar builder
//	signalengine/engine.go   — indicator pipeline + multi-layer entry filter
//	indicators/indicators.go — pure numerical kernels (EMA, RSI, ATR, Bollinger, VWAP, RVOL, OBI, trailing stop)
//	risk/sizing.go           — ATR-based and Kelly position sizing
//	risk/breaker.go          — global circuit breaker (daily loss, drawdown, streak, trade count, latency)
//	accounting/position.go   — per-symbol net position and realized P&L ledger
//	oms/oms.go               — order lifecycle tracking and orphan recovery
//	exchange/client.go       — REST client (orders, leverage, listenKey) with a sliding-window weight limiter
//
// How it makes money:
//
//	The engine buckets the trade tape into fixed-notional volume bars, runs a
//	breakout/mean-reversion/liquidity-sweep pipeline over each completed bar,
//	and on a qualifying signal sizes and submits a market order sized off ATR
//	risk (or Kelly, if configured). A circuit breaker halts new entries once
//	daily loss, drawdown, loss streak, trade count, or execution latency
//	crosses its configured threshold.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/nvega-systems/perp-scalper/internal/config"
	"github.com/nvega-systems/perp-scalper/internal/dispatcher"
	"github.com/nvega-systems/perp-scalper/internal/exchange"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SCALP_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	client := exchange.NewClient(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, symbol := range cfg.Instruments.TradingPairs {
		if err := client.SetLeverage(ctx, symbol, cfg.Instruments.Leverage); err != nil {
			logger.Warn("failed to set leverage", "symbol", symbol, "leverage", cfg.Instruments.Leverage, "error", err)
		}
	}

	disp := dispatcher.New(cfg, logger, client)
	disp.Start(ctx)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("scalping engine started",
		"symbols", cfg.Instruments.TradingPairs,
		"entry_mode", cfg.Entry.Mode,
		"sizing_model", cfg.Risk.SizingModel,
		"dry_run", cfg.DryRun,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	disp.Stop()
	logger.Info("scalping engine stopped")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
