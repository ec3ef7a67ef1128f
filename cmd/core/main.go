// Prop Trader Core — a multi-account trade execution engine for funded-trader
// challenge accounts.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires ingress → risk gate → executor → broker → ledger
//	api/server.go        — authenticated TradingView webhook ingress with per-source throttle
//	strategy/runner.go   — periodic strategy evaluation over stored bars (momentum, mean
//	                       reversion, sector rotation, smart DCA) with regime filtering
//	allocator/           — portfolio allocation across strategies plus Kelly position sizing
//	risk/gate.go         — ordered pre-trade checks: kill switch, market hours, drawdown,
//	                       trade limits, position size, sell-below-basis
//	executor/executor.go — block order router: one broker order, equity-weighted fills
//	                       across accounts, cost basis and realized P&L per account
//	broker/              — Alpaca-compatible REST client, trade-update stream, dry-run client
//	propfirm/            — challenge account compliance sweeps and the end-of-day report
//	ledger/              — gorm store: trades, configs, accounts, bars, webhook audit
//	secrets/             — Fernet-compatible encryption for broker credentials at rest
//
// How positions flow:
//
//	A signal (webhook or internal strategy) is risk-checked per account.
//	Approved accounts share one aggregated block order at the broker; the
//	fill is prorated back by account equity, so every challenge account
//	stays inside its own drawdown limits while the desk trades as one book.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"proptrader/internal/config"
	"proptrader/internal/engine"
)

func main() {
	// .env is optional: overrides for local development only.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PROP_CONFIG"); p != "" {
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

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("prop trader core started",
		"port", cfg.API.Port,
		"runner_interval", cfg.Runner.Interval,
		"sweep_interval", cfg.Sweep.Interval,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
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
