package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/allocator"
	"proptrader/internal/broker"
	"proptrader/internal/config"
	"proptrader/internal/ledger"
	"proptrader/internal/risk"
	"proptrader/pkg/types"
)

// Dispatcher receives actionable signals from the runner. The executor's
// block router satisfies this.
type Dispatcher interface {
	Execute(ctx context.Context, sig types.Signal, sc *ledger.StrategyConfig) ([]string, error)
}

// BarSource is the slice of the ledger the runner reads.
type BarSource interface {
	ActiveStrategies() ([]ledger.StrategyConfig, error)
	RecentBars(symbol, timeframe string, limit int) ([]types.Bar, error)
	StrategyOutcomes(strategy string, limit int) ([]decimal.Decimal, error)
}

// benchmarkSymbol is the macro regime proxy.
const benchmarkSymbol = "SPY"

// Runner periodically evaluates every active strategy over recent bars and
// pushes actionable signals into the executor. One evaluation cycle is a
// Tick; Run schedules Ticks on a fixed cadence during the stock session.
type Runner struct {
	store      BarSource
	broker     broker.Client
	alloc      *allocator.PortfolioAllocator
	dispatcher Dispatcher

	interval       time.Duration
	barLookback    int
	minBars        int
	fallbackEquity decimal.Decimal

	kelly *allocator.KellyEngine
	now   func() time.Time
	log   *slog.Logger
}

// NewRunner builds a Runner from runner and risk configuration.
func NewRunner(store BarSource, brokerClient broker.Client, alloc *allocator.PortfolioAllocator, dispatcher Dispatcher, cfg config.RunnerConfig, fallbackEquity decimal.Decimal, log *slog.Logger) *Runner {
	return &Runner{
		store:          store,
		broker:         brokerClient,
		alloc:          alloc,
		dispatcher:     dispatcher,
		interval:       cfg.Interval,
		barLookback:    cfg.BarLookback,
		minBars:        cfg.MinBars,
		fallbackEquity: fallbackEquity,
		kelly:          allocator.NewKellyEngine(allocator.KellyHalf, log),
		now:            time.Now,
		log:            log.With("component", "strategy_runner"),
	}
}

// WithClock replaces the runner's clock.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run fires Tick on the configured cadence until ctx is cancelled. Ticks
// are skipped outside the stock session; crypto strategies still get their
// entries evaluated inside the session, which is acceptable for a system
// whose book is predominantly equities.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !risk.StockSessionOpen(r.now()) {
				continue
			}
			r.Tick(ctx)
		}
	}
}

// Tick runs one full evaluation cycle: allocate equity across active
// strategies, then per strategy and symbol run the exit check for open
// positions and the entry check for new ones.
func (r *Runner) Tick(ctx context.Context) {
	configs, err := r.store.ActiveStrategies()
	if err != nil {
		r.log.Error("loading active strategies", "error", err)
		return
	}
	if len(configs) == 0 {
		return
	}

	equity := r.fallbackEquity
	if acct, err := r.broker.GetAccount(ctx); err != nil {
		r.log.Warn("broker equity unavailable, using fallback", "error", err)
	} else if acct.Equity.IsPositive() {
		equity = acct.Equity
	}

	names := make([]string, len(configs))
	for i, sc := range configs {
		names[i] = sc.Name
	}
	allocations := r.alloc.Allocations(equity, names)

	regime := r.detectRegime()

	for i := range configs {
		sc := &configs[i]
		strat, err := FromConfig(*sc)
		if err != nil {
			r.log.Error("constructing strategy", "strategy", sc.Name, "error", err)
			continue
		}
		budget := allocations[sc.Name]
		r.evaluateStrategy(ctx, strat, sc, budget, regime)
	}
}

func (r *Runner) detectRegime() Regime {
	bars, err := r.store.RecentBars(benchmarkSymbol, "1d", 60)
	if err != nil {
		r.log.Warn("benchmark bars unavailable", "error", err)
		return Regime{Trend: TrendUnknown, Volatility: VolNeutral}
	}
	regime := DetectRegime(bars)
	if regime.IsCrashMode {
		r.log.Warn("crash regime detected, entries suspended",
			"trend", regime.Trend, "volatility", regime.Volatility)
	}
	return regime
}

func (r *Runner) evaluateStrategy(ctx context.Context, strat Strategy, sc *ledger.StrategyConfig, budget decimal.Decimal, regime Regime) {
	filters := Filters{
		ConfidenceThreshold: sc.AIConfidenceThreshold.InexactFloat64(),
		MinPrice:            decimal.NewFromInt(1),
		Kelly:               r.kelly,
		StopLossPct:         sc.StopLossPct,
		Log:                 r.log,
	}

	for _, symbol := range sc.Symbols {
		bars, err := r.store.RecentBars(symbol, sc.Timeframe, r.barLookback)
		if err != nil {
			r.log.Warn("bars unavailable", "symbol", symbol, "error", err)
			continue
		}
		if len(bars) < r.minBars {
			r.log.Debug("insufficient history", "symbol", symbol, "bars", len(bars))
			continue
		}

		// Exit pass: an open position is checked for the exit ladder
		// before any new entry is considered.
		if r.checkExit(ctx, strat, sc, symbol, bars) {
			continue
		}

		sig := strat.GenerateSignal(symbol, bars)
		if !sig.IsActionable() {
			continue
		}

		sig = filters.ApplyConfidence(sig)
		sig = filters.ApplyRegime(sig, regime)
		sig = filters.ApplyFundamental(sig, bars)
		if !sig.IsActionable() {
			r.log.Info("signal filtered", "symbol", symbol, "reason", sig.Reason)
			continue
		}

		if sig.Quantity.IsZero() {
			sig.Quantity = strat.CalculatePositionSize(symbol, sig.Price, budget)
		}
		outcomes, err := r.store.StrategyOutcomes(sig.StrategyName, 200)
		if err == nil {
			sig = filters.ApplyKellySizing(sig, budget, outcomes)
		}
		if !sig.Quantity.IsPositive() {
			r.log.Info("signal sized to zero", "symbol", symbol, "strategy", sc.Name)
			continue
		}

		r.log.Info("entry signal",
			"symbol", symbol, "strategy", sc.Name,
			"qty", sig.Quantity.String(), "price", sig.Price.String(), "reason", sig.Reason)
		if _, err := r.dispatcher.Execute(ctx, sig, sc); err != nil {
			r.log.Error("dispatching entry signal", "symbol", symbol, "error", err)
		}
	}
}

// checkExit runs the strategy's exit ladder against an open broker
// position. Returns true when the symbol is held (whether or not an exit
// fired), so the caller skips the entry check.
func (r *Runner) checkExit(ctx context.Context, strat Strategy, sc *ledger.StrategyConfig, symbol string, bars []types.Bar) bool {
	pos, err := r.broker.GetPosition(ctx, symbol)
	if err != nil || pos == nil || !pos.Qty.IsPositive() {
		return false
	}

	currentPrice := pos.CurrentPrice
	if !currentPrice.IsPositive() && len(bars) > 0 {
		currentPrice = decimal.NewFromFloat(bars[len(bars)-1].Close)
	}

	sig := strat.CheckExit(symbol, pos.AvgEntryPrice, currentPrice, bars)
	if !sig.IsActionable() {
		return true
	}

	sig.Quantity = pos.Qty
	r.log.Info("exit signal",
		"symbol", symbol, "strategy", sc.Name,
		"qty", sig.Quantity.String(), "reason", sig.Reason)
	if _, err := r.dispatcher.Execute(ctx, sig, sc); err != nil {
		r.log.Error("dispatching exit signal", "symbol", symbol, "error", err)
	}
	return true
}
