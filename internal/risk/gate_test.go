package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/ledger"
	"proptrader/pkg/types"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// marketOpen is a Wednesday at 10:00 ET.
var marketOpen = time.Date(2026, 8, 26, 10, 0, 0, 0, easternTZ)

type fakeLedger struct {
	cfg       *ledger.RiskConfig
	cfgErr    error
	dailyPnL  decimal.Decimal
	pnlErr    error
	count     int
	countErr  error
	open      []string
	costBasis decimal.Decimal
	hasBasis  bool
	basisErr  error
}

func (f *fakeLedger) ActiveRiskConfig() (*ledger.RiskConfig, error) {
	if f.cfgErr != nil {
		return nil, f.cfgErr
	}
	if f.cfg == nil {
		cfg := ledger.DefaultRiskConfig()
		return &cfg, nil
	}
	return f.cfg, nil
}

func (f *fakeLedger) DailyRealizedPnL(time.Time, string) (decimal.Decimal, error) {
	return f.dailyPnL, f.pnlErr
}

func (f *fakeLedger) DailyTradeCount(time.Time) (int, error) {
	return f.count, f.countErr
}

func (f *fakeLedger) OpenPositionSymbols() ([]string, error) {
	return f.open, nil
}

func (f *fakeLedger) CostBasis(string, string) (decimal.Decimal, bool, error) {
	return f.costBasis, f.hasBasis, f.basisErr
}

type fakeBroker struct {
	equity       decimal.Decimal
	accountErr   error
	positions    []types.Position
	positionsErr error
}

func (f *fakeBroker) GetAccount(context.Context) (*types.Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return &types.Account{Equity: f.equity}, nil
}

func (f *fakeBroker) GetPositions(context.Context) ([]types.Position, error) {
	return f.positions, f.positionsErr
}

func (f *fakeBroker) GetPosition(context.Context, string) (*types.Position, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) SubmitOrder(context.Context, types.OrderRequest) (*types.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) CancelAllOrders(context.Context) error   { return nil }
func (f *fakeBroker) CloseAllPositions(context.Context) error { return nil }

func newGate(store *fakeLedger, b *fakeBroker, at time.Time) *Gate {
	return New(store, b, dec("100000"), discardLog()).WithClock(func() time.Time { return at })
}

func buySignal() types.Signal {
	return types.Signal{
		Action: types.ActionBuy, Ticker: "AAPL",
		Price: dec("150"), Quantity: dec("10"),
	}
}

func TestGateApprovesCleanSignal(t *testing.T) {
	t.Parallel()

	g := newGate(&fakeLedger{}, &fakeBroker{equity: dec("100000")}, marketOpen)
	d := g.Check(context.Background(), buySignal(), "")
	if !d.Approved {
		t.Fatalf("rejected: %s", d.Reason)
	}
}

func TestKillSwitchRejectsFirst(t *testing.T) {
	t.Parallel()

	cfg := ledger.DefaultRiskConfig()
	cfg.KillSwitchActive = true
	// Every other check would also fail; the kill switch must win.
	store := &fakeLedger{cfg: &cfg, dailyPnL: dec("-99999"), count: 999}
	g := newGate(store, &fakeBroker{}, time.Date(2026, 8, 23, 3, 0, 0, 0, easternTZ))

	d := g.Check(context.Background(), buySignal(), "")
	if d.Approved {
		t.Fatal("approved with kill switch active")
	}
	if d.Reason != "Kill switch is ACTIVE" {
		t.Errorf("reason = %q, want kill switch message", d.Reason)
	}
}

func TestMarketHours(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		at      time.Time
		ticker  string
		approve bool
	}{
		{"weekday mid-session", marketOpen, "AAPL", true},
		{"weekend", time.Date(2026, 8, 22, 11, 0, 0, 0, easternTZ), "AAPL", false},
		{"before open", time.Date(2026, 8, 26, 9, 29, 0, 0, easternTZ), "AAPL", false},
		{"at open", time.Date(2026, 8, 26, 9, 30, 0, 0, easternTZ), "AAPL", true},
		{"at close", time.Date(2026, 8, 26, 16, 0, 0, 0, easternTZ), "AAPL", false},
		{"crypto pair overnight", time.Date(2026, 8, 23, 3, 0, 0, 0, easternTZ), "BTC/USD", true},
		{"crypto symbol overnight", time.Date(2026, 8, 23, 3, 0, 0, 0, easternTZ), "BTCUSD", true},
		{"futures overnight", time.Date(2026, 8, 26, 2, 0, 0, 0, easternTZ), "MES2606", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newGate(&fakeLedger{}, &fakeBroker{equity: dec("100000")}, tt.at)
			sig := buySignal()
			sig.Ticker = tt.ticker
			d := g.Check(context.Background(), sig, "")
			if d.Approved != tt.approve {
				t.Errorf("approved = %v (%s), want %v", d.Approved, d.Reason, tt.approve)
			}
		})
	}
}

func TestDailyLossLimit(t *testing.T) {
	t.Parallel()

	store := &fakeLedger{dailyPnL: dec("-1000")}
	g := newGate(store, &fakeBroker{equity: dec("100000")}, marketOpen)

	d := g.Check(context.Background(), buySignal(), "")
	if d.Approved {
		t.Fatal("approved despite loss at limit")
	}
	if !strings.Contains(d.Reason, "drawdown") {
		t.Errorf("reason = %q, want drawdown message", d.Reason)
	}

	// Profitable day passes.
	store.dailyPnL = dec("500")
	if d := g.Check(context.Background(), buySignal(), ""); !d.Approved {
		t.Errorf("rejected on profitable day: %s", d.Reason)
	}
}

func TestDailyTradeCount(t *testing.T) {
	t.Parallel()

	store := &fakeLedger{count: 50}
	g := newGate(store, &fakeBroker{equity: dec("100000")}, marketOpen)

	d := g.Check(context.Background(), buySignal(), "")
	if d.Approved {
		t.Fatal("approved at trade limit")
	}
	if !strings.Contains(d.Reason, "trade limit") {
		t.Errorf("reason = %q, want trade limit message", d.Reason)
	}
}

func TestOpenPositionsBrokerAndFallback(t *testing.T) {
	t.Parallel()

	full := make([]types.Position, 10)
	g := newGate(&fakeLedger{}, &fakeBroker{equity: dec("100000"), positions: full}, marketOpen)
	if d := g.Check(context.Background(), buySignal(), ""); d.Approved {
		t.Fatal("approved with max open positions at broker")
	}

	// Broker down: fall back to the ledger estimate.
	store := &fakeLedger{open: []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}}
	g = newGate(store, &fakeBroker{equity: dec("100000"), positionsErr: errors.New("down")}, marketOpen)
	if d := g.Check(context.Background(), buySignal(), ""); d.Approved {
		t.Fatal("approved with max open positions in ledger fallback")
	}

	// Sells always pass the open-position check.
	sell := buySignal()
	sell.Action = types.ActionSell
	sell.Price = dec("200")
	g = newGate(&fakeLedger{}, &fakeBroker{equity: dec("100000"), positions: full}, marketOpen)
	if d := g.Check(context.Background(), sell, ""); !d.Approved {
		t.Errorf("sell rejected by open-position check: %s", d.Reason)
	}
}

func TestPositionSize(t *testing.T) {
	t.Parallel()

	// 10 * 150 = $1500 > 5% of $20k.
	g := newGate(&fakeLedger{}, &fakeBroker{equity: dec("20000")}, marketOpen)
	d := g.Check(context.Background(), buySignal(), "")
	if d.Approved {
		t.Fatal("approved oversized position")
	}
	if !strings.Contains(d.Reason, "Position size") {
		t.Errorf("reason = %q", d.Reason)
	}

	// Broker unreachable: fallback equity of $100k lets the same order pass.
	g = newGate(&fakeLedger{}, &fakeBroker{accountErr: errors.New("down")}, marketOpen)
	if d := g.Check(context.Background(), buySignal(), ""); !d.Approved {
		t.Errorf("broker error must fall back, not reject: %s", d.Reason)
	}

	// Market orders without a price skip the check.
	sig := buySignal()
	sig.Price = decimal.Zero
	g = newGate(&fakeLedger{}, &fakeBroker{equity: dec("1000")}, marketOpen)
	if d := g.Check(context.Background(), sig, ""); !d.Approved {
		t.Errorf("unpriced signal rejected by size check: %s", d.Reason)
	}
}

func TestSellAboveCostBasis(t *testing.T) {
	t.Parallel()

	store := &fakeLedger{costBasis: dec("160"), hasBasis: true}
	g := newGate(store, &fakeBroker{equity: dec("100000")}, marketOpen)

	sell := types.Signal{Action: types.ActionSell, Ticker: "AAPL", Price: dec("150"), Quantity: dec("10")}
	d := g.Check(context.Background(), sell, "")
	if d.Approved {
		t.Fatal("approved sell below cost basis")
	}
	if !strings.Contains(d.Reason, "cost basis") {
		t.Errorf("reason = %q, want cost basis message", d.Reason)
	}

	// Selling at or above basis passes.
	sell.Price = dec("160")
	if d := g.Check(context.Background(), sell, ""); !d.Approved {
		t.Errorf("sell at basis rejected: %s", d.Reason)
	}

	// Market sells bypass the check.
	sell.Price = decimal.Zero
	if d := g.Check(context.Background(), sell, ""); !d.Approved {
		t.Errorf("market sell rejected: %s", d.Reason)
	}

	// No prior buys: nothing to protect.
	store.hasBasis = false
	sell.Price = dec("1")
	if d := g.Check(context.Background(), sell, ""); !d.Approved {
		t.Errorf("sell without basis rejected: %s", d.Reason)
	}
}

func TestCheckOrderShortCircuit(t *testing.T) {
	t.Parallel()

	// Trade count and position size would both fail; trade count is the
	// earlier check and must be the reported reason.
	store := &fakeLedger{count: 50}
	g := newGate(store, &fakeBroker{equity: dec("1")}, marketOpen)
	d := g.Check(context.Background(), buySignal(), "")
	if d.Approved {
		t.Fatal("approved")
	}
	if !strings.Contains(d.Reason, "trade limit") {
		t.Errorf("reason = %q, want earlier check to win", d.Reason)
	}
}

func TestMissingRiskConfigRejects(t *testing.T) {
	t.Parallel()

	store := &fakeLedger{cfgErr: ledger.ErrNoActiveRiskConfig}
	g := newGate(store, &fakeBroker{equity: dec("100000")}, marketOpen)
	d := g.Check(context.Background(), buySignal(), "")
	if d.Approved {
		t.Fatal("approved without risk configuration")
	}
}
