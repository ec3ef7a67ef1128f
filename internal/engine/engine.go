// Package engine is the central orchestrator of the trading core.
//
// It wires together all subsystems:
//
//  1. The ledger store is the single source of truth for trades, configs,
//     accounts, and bars.
//  2. The ingress API accepts webhook signals; the strategy runner produces
//     internal signals on a timer.
//  3. Both paths converge on the executor, which gates, blocks, and routes
//     orders to the broker.
//  4. The trade-update stream feeds broker fills back into the ledger.
//  5. The prop-firm manager sweeps account compliance and posts the EOD
//     report.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/allocator"
	"proptrader/internal/api"
	"proptrader/internal/broker"
	"proptrader/internal/config"
	"proptrader/internal/executor"
	"proptrader/internal/ledger"
	"proptrader/internal/notifier"
	"proptrader/internal/propfirm"
	"proptrader/internal/risk"
	"proptrader/internal/strategy"
)

// Engine owns the lifecycle of every long-running component.
type Engine struct {
	cfg    *config.Config
	store  *ledger.Store
	broker broker.Client
	stream *broker.Stream
	exec   *executor.Executor
	runner *strategy.Runner
	sweeps *propfirm.Manager
	server *api.Server
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg *config.Config, log *slog.Logger) (*Engine, error) {
	store, err := ledger.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	n := notifier.New(cfg.Notifier.DiscordWebhookURL, log)

	var brokerClient broker.Client
	var stream *broker.Stream
	if cfg.DryRun {
		log.Warn("dry run mode: orders fill instantly in memory, nothing reaches the broker")
		brokerClient = broker.NewDryRunClient(decimal.NewFromFloat(cfg.Risk.FallbackEquity), log)
	} else {
		brokerClient = broker.NewRESTClient(cfg.Broker, log)
		stream = broker.NewStream(cfg.Broker, log)
	}

	fallbackEquity := decimal.NewFromFloat(cfg.Risk.FallbackEquity)
	gate := risk.New(store, brokerClient, fallbackEquity, log)
	exec := executor.New(store, brokerClient, gate, n, cfg.Broker.IBTag, log)

	alloc := allocator.New(store, log)
	runner := strategy.NewRunner(store, brokerClient, alloc, exec, cfg.Runner, fallbackEquity, log)

	sweeps := propfirm.NewManager(store, n, cfg.Sweep, log)
	server := api.New(store, exec, brokerClient, sweeps, cfg.Webhook, cfg.API, log)

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:    cfg,
		store:  store,
		broker: brokerClient,
		stream: stream,
		exec:   exec,
		runner: runner,
		sweeps: sweeps,
		server: server,
		log:    log.With("component", "engine"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches all background goroutines: the ingress server, the
// strategy runner, the compliance sweeps, and the trade-update stream.
func (e *Engine) Start() error {
	if err := e.syncCredentials(e.ctx); err != nil {
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.server.ListenAndServe(); err != nil && e.ctx.Err() == nil {
			e.log.Error("ingress server error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.runner.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.log.Error("strategy runner error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sweeps.Run(e.ctx)
	}()

	if e.stream != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.stream.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.log.Error("trade update stream error", "error", err)
			}
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.exec.ListenTradeUpdates(e.ctx, e.stream.Updates())
		}()
	}

	e.log.Info("engine started", "dry_run", e.cfg.DryRun)
	return nil
}

// Stop shuts down gracefully: stops accepting ingress requests, cancels
// all goroutines, waits for them, and closes the store.
func (e *Engine) Stop() {
	e.log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		e.log.Error("ingress shutdown", "error", err)
	}

	e.cancel()
	if e.stream != nil {
		if err := e.stream.Close(); err != nil {
			e.log.Error("closing stream", "error", err)
		}
	}
	e.wg.Wait()

	if err := e.store.Close(); err != nil {
		e.log.Error("closing store", "error", err)
	}
	e.log.Info("engine stopped")
}
