// Package risk implements the pre-trade gate: an ordered pipeline of checks
// that approves or rejects a signal with a reason. Check order is
// load-bearing, cheapest and most restrictive first, and the first failure
// short-circuits. Broker read errors inside a check fall back to local
// estimates instead of rejecting, so a flaky upstream cannot halt trading
// by itself.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/broker"
	"proptrader/internal/ledger"
	"proptrader/pkg/types"
)

// Decision is the gate's verdict for one (signal, account) pair.
type Decision struct {
	Approved bool
	Reason   string
}

func approved() Decision { return Decision{Approved: true, Reason: "All risk checks passed"} }

func rejected(reason string) Decision { return Decision{Approved: false, Reason: reason} }

// Ledger is the slice of the store the gate reads.
type Ledger interface {
	ActiveRiskConfig() (*ledger.RiskConfig, error)
	DailyRealizedPnL(now time.Time, brokerAccountID string) (decimal.Decimal, error)
	DailyTradeCount(now time.Time) (int, error)
	OpenPositionSymbols() ([]string, error)
	CostBasis(symbol, brokerAccountID string) (decimal.Decimal, bool, error)
}

// Gate evaluates signals against the active risk configuration.
type Gate struct {
	store  Ledger
	broker broker.Client

	fallbackEquity decimal.Decimal
	now            func() time.Time

	log *slog.Logger
}

// New builds a Gate. The clock is injectable for tests via WithClock.
func New(store Ledger, brokerClient broker.Client, fallbackEquity decimal.Decimal, log *slog.Logger) *Gate {
	return &Gate{
		store:          store,
		broker:         brokerClient,
		fallbackEquity: fallbackEquity,
		now:            time.Now,
		log:            log,
	}
}

// WithClock replaces the gate's clock.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Check runs the full pipeline for a signal on one account. An empty
// brokerAccountID means the default (global) account. A load failure on the
// risk configuration is a hard rejection: trading without limits is worse
// than not trading.
func (g *Gate) Check(ctx context.Context, sig types.Signal, brokerAccountID string) Decision {
	cfg, err := g.store.ActiveRiskConfig()
	if err != nil {
		g.log.Error("risk config unavailable", "error", err)
		return rejected("No active risk configuration")
	}

	checks := []func(context.Context, *ledger.RiskConfig, types.Signal, string) Decision{
		g.checkKillSwitch,
		g.checkMarketHours,
		g.checkDailyDrawdown,
		g.checkDailyLossLimit,
		g.checkDailyTradeCount,
		g.checkOpenPositions,
		g.checkPositionSize,
		g.checkSellAboveCostBasis,
	}
	for _, check := range checks {
		if d := check(ctx, cfg, sig, brokerAccountID); !d.Approved {
			g.log.Warn("risk check rejected signal",
				"symbol", sig.Ticker, "action", sig.Action, "reason", d.Reason)
			return d
		}
	}
	return approved()
}

// 1. Kill switch.
func (g *Gate) checkKillSwitch(_ context.Context, cfg *ledger.RiskConfig, _ types.Signal, _ string) Decision {
	if cfg.KillSwitchActive {
		return rejected("Kill switch is ACTIVE")
	}
	return approved()
}

var easternTZ = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// cryptoSymbols are tickers that trade around the clock without a slash.
var cryptoSymbols = map[string]bool{
	"BTCUSD": true, "ETHUSD": true, "BTC": true, "ETH": true,
	"SOLUSD": true, "DOGEUSD": true,
}

// ExemptFromMarketHours reports whether a symbol trades outside the stock
// session: crypto pairs and futures contracts.
func ExemptFromMarketHours(symbol string) bool {
	if strings.Contains(symbol, "/") {
		return true
	}
	upper := strings.ToUpper(symbol)
	if cryptoSymbols[upper] {
		return true
	}
	return strings.HasPrefix(upper, "MES") || strings.HasPrefix(upper, "MNQ")
}

// StockSessionOpen reports whether t falls inside the stock session,
// 09:30-16:00 US/Eastern on a weekday.
func StockSessionOpen(t time.Time) bool {
	et := t.In(easternTZ)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := et.Hour()*60 + et.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// 2. Market hours: stocks trade 09:30-16:00 US/Eastern, Monday to Friday.
func (g *Gate) checkMarketHours(_ context.Context, _ *ledger.RiskConfig, sig types.Signal, _ string) Decision {
	if ExemptFromMarketHours(sig.Ticker) {
		return approved()
	}

	now := g.now().In(easternTZ)
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return rejected("Market is closed (weekend)")
	}
	minutes := now.Hour()*60 + now.Minute()
	if minutes < 9*60+30 || minutes >= 16*60 {
		return rejected("Market is closed (outside 09:30-16:00 ET)")
	}
	return approved()
}

// 3. Daily drawdown: today's realized losses versus the dollar limit.
func (g *Gate) checkDailyDrawdown(_ context.Context, cfg *ledger.RiskConfig, _ types.Signal, brokerAccountID string) Decision {
	pnl, err := g.store.DailyRealizedPnL(g.now(), brokerAccountID)
	if err != nil {
		g.log.Warn("daily pnl unavailable, skipping drawdown check", "error", err)
		return approved()
	}
	if pnl.Sign() < 0 && pnl.Abs().GreaterThanOrEqual(cfg.DailyLossLimit) {
		return rejected(fmt.Sprintf("Daily drawdown limit reached: down $%s today", pnl.Abs().StringFixed(2)))
	}
	return approved()
}

// 4. Daily loss limit. Kept distinct from the drawdown check so the two can
// diverge (percent versus dollar) without reordering the pipeline.
func (g *Gate) checkDailyLossLimit(_ context.Context, cfg *ledger.RiskConfig, _ types.Signal, brokerAccountID string) Decision {
	pnl, err := g.store.DailyRealizedPnL(g.now(), brokerAccountID)
	if err != nil {
		g.log.Warn("daily pnl unavailable, skipping loss limit check", "error", err)
		return approved()
	}
	if pnl.Sign() < 0 && pnl.Abs().GreaterThanOrEqual(cfg.DailyLossLimit) {
		return rejected(fmt.Sprintf("Daily loss limit of $%s reached", cfg.DailyLossLimit.StringFixed(2)))
	}
	return approved()
}

// 5. Daily trade count: every attempt counts, including rejected ones.
func (g *Gate) checkDailyTradeCount(_ context.Context, cfg *ledger.RiskConfig, _ types.Signal, _ string) Decision {
	count, err := g.store.DailyTradeCount(g.now())
	if err != nil {
		g.log.Warn("trade count unavailable, skipping check", "error", err)
		return approved()
	}
	if count >= cfg.MaxDailyTrades {
		return rejected(fmt.Sprintf("Daily trade limit reached (%d/%d)", count, cfg.MaxDailyTrades))
	}
	return approved()
}

// 6. Max open positions, from the broker when reachable, else approximated
// from the ledger. Sells reduce exposure and always pass this check.
func (g *Gate) checkOpenPositions(ctx context.Context, cfg *ledger.RiskConfig, sig types.Signal, _ string) Decision {
	if sig.Action == types.ActionSell {
		return approved()
	}

	open := 0
	positions, err := g.broker.GetPositions(ctx)
	if err != nil {
		g.log.Warn("broker positions unavailable, using ledger estimate", "error", err)
		symbols, lerr := g.store.OpenPositionSymbols()
		if lerr != nil {
			g.log.Warn("ledger position estimate unavailable, skipping check", "error", lerr)
			return approved()
		}
		open = len(symbols)
	} else {
		open = len(positions)
	}

	if open >= cfg.MaxOpenPositions {
		return rejected(fmt.Sprintf("Max open positions reached (%d/%d)", open, cfg.MaxOpenPositions))
	}
	return approved()
}

// 7. Position size versus equity. Market orders without a price cannot be
// sized ahead of the fill and skip the check.
func (g *Gate) checkPositionSize(ctx context.Context, cfg *ledger.RiskConfig, sig types.Signal, _ string) Decision {
	if !sig.HasPrice() {
		return approved()
	}

	equity := g.fallbackEquity
	acct, err := g.broker.GetAccount(ctx)
	if err != nil {
		g.log.Warn("broker equity unavailable, using fallback", "error", err, "fallback", equity.String())
	} else if acct.Equity.IsPositive() {
		equity = acct.Equity
	}

	notional := sig.Quantity.Mul(sig.Price)
	maxNotional := equity.Mul(cfg.MaxPositionSizePct).Div(decimal.NewFromInt(100))
	if notional.GreaterThan(maxNotional) {
		return rejected(fmt.Sprintf("Position size $%s exceeds %s%% of equity ($%s max)",
			notional.StringFixed(2), cfg.MaxPositionSizePct.String(), maxNotional.StringFixed(2)))
	}
	return approved()
}

// 8. Never voluntarily realize a loss: a priced sell below the weighted
// average cost basis is rejected. Market sells bypass, the fill price is
// unknowable here.
func (g *Gate) checkSellAboveCostBasis(_ context.Context, _ *ledger.RiskConfig, sig types.Signal, brokerAccountID string) Decision {
	if sig.Action != types.ActionSell || !sig.HasPrice() {
		return approved()
	}

	basis, ok, err := g.store.CostBasis(sig.Ticker, brokerAccountID)
	if err != nil {
		g.log.Warn("cost basis unavailable, skipping check", "error", err)
		return approved()
	}
	if !ok {
		return approved()
	}
	if sig.Price.LessThan(basis) {
		return rejected(fmt.Sprintf("Sell price $%s below cost basis $%s",
			sig.Price.StringFixed(2), basis.StringFixed(2)))
	}
	return approved()
}
