package propfirm

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/config"
	"proptrader/internal/ledger"
	"proptrader/pkg/types"
)

var discardLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeLedger struct {
	accounts []ledger.PropFirmAccount
	pnl      map[string]decimal.Decimal
	dailyPnL decimal.Decimal
	trades   []ledger.Trade
	open     []string
	saved    []ledger.PropFirmAccount
}

func (f *fakeLedger) ActiveAccounts() ([]ledger.PropFirmAccount, error) {
	return f.accounts, nil
}

func (f *fakeLedger) SaveAccount(a *ledger.PropFirmAccount) error {
	f.saved = append(f.saved, *a)
	return nil
}

func (f *fakeLedger) TotalRealizedPnL(brokerAccountID string) (decimal.Decimal, error) {
	return f.pnl[brokerAccountID], nil
}

func (f *fakeLedger) DailyRealizedPnL(time.Time, string) (decimal.Decimal, error) {
	return f.dailyPnL, nil
}

func (f *fakeLedger) TradesToday(time.Time) ([]ledger.Trade, error) { return f.trades, nil }

func (f *fakeLedger) OpenPositionSymbols() ([]string, error) { return f.open, nil }

func challengeAccount(brokerID string) ledger.PropFirmAccount {
	return ledger.PropFirmAccount{
		ID:                  1,
		Name:                "FTMO 100K",
		Firm:                "ftmo",
		BrokerAccountID:     brokerID,
		Phase:               ledger.PhaseEvaluation,
		IsActive:            true,
		AccountSize:         dec("100000"),
		MaxDailyDrawdownPct: dec("5"),
		MaxTotalDrawdownPct: dec("10"),
		ProfitTargetPct:     dec("10"),
	}
}

func newManager(store *fakeLedger) *Manager {
	cfg := config.SweepConfig{Interval: time.Minute, WarnRatio: 0.80, EODTime: "16:15"}
	return NewManager(store, nil, cfg, discardLog)
}

func TestSweepFailsAccountOnDrawdownBreach(t *testing.T) {
	t.Parallel()

	store := &fakeLedger{
		accounts: []ledger.PropFirmAccount{challengeAccount("acct_a")},
		pnl:      map[string]decimal.Decimal{"acct_a": dec("-10000")}, // 10% = limit
	}
	newManager(store).Sweep(context.Background())

	if len(store.saved) != 1 {
		t.Fatalf("saved %d accounts, want 1", len(store.saved))
	}
	got := store.saved[0]
	if got.Phase != ledger.PhaseFailed {
		t.Errorf("phase = %s, want failed", got.Phase)
	}
	if got.IsActive {
		t.Error("failed account must be deactivated")
	}
}

func TestSweepDeactivatesOnProfitTarget(t *testing.T) {
	t.Parallel()

	store := &fakeLedger{
		accounts: []ledger.PropFirmAccount{challengeAccount("acct_a")},
		pnl:      map[string]decimal.Decimal{"acct_a": dec("10000")}, // 10% target hit
	}
	newManager(store).Sweep(context.Background())

	if len(store.saved) != 1 {
		t.Fatalf("saved %d accounts, want 1", len(store.saved))
	}
	got := store.saved[0]
	// Phase advancement is manual; the sweep only parks the account.
	if got.Phase != ledger.PhaseEvaluation {
		t.Errorf("phase = %s, want evaluation unchanged", got.Phase)
	}
	if got.IsActive {
		t.Error("passed account must be deactivated pending firm confirmation")
	}
}

func TestSweepHealthyAccountUntouched(t *testing.T) {
	t.Parallel()

	store := &fakeLedger{
		accounts: []ledger.PropFirmAccount{challengeAccount("acct_a")},
		pnl:      map[string]decimal.Decimal{"acct_a": dec("2500")},
	}
	newManager(store).Sweep(context.Background())

	if len(store.saved) != 0 {
		t.Errorf("healthy account saved %d times, want 0", len(store.saved))
	}
}

func TestSweepFundedAccountIgnoresProfitTarget(t *testing.T) {
	t.Parallel()

	acct := challengeAccount("acct_a")
	acct.Phase = ledger.PhaseFunded
	store := &fakeLedger{
		accounts: []ledger.PropFirmAccount{acct},
		pnl:      map[string]decimal.Decimal{"acct_a": dec("50000")},
	}
	newManager(store).Sweep(context.Background())

	if len(store.saved) != 0 {
		t.Error("funded account must keep trading past the target")
	}
}

func TestDrawdownWarningOncePerDay(t *testing.T) {
	t.Parallel()

	// 8.5% drawdown against a 10% limit crosses the 80% warn ratio.
	store := &fakeLedger{
		accounts: []ledger.PropFirmAccount{challengeAccount("acct_a")},
		pnl:      map[string]decimal.Decimal{"acct_a": dec("-8500")},
	}
	m := newManager(store)

	day1 := time.Date(2026, 8, 26, 12, 0, 0, 0, easternTZ)
	m.WithClock(func() time.Time { return day1 })

	m.Sweep(context.Background())
	m.Sweep(context.Background())
	if len(store.saved) != 0 {
		t.Error("warning must not mutate the account")
	}
	if !m.warned[1] {
		t.Fatal("warning not recorded")
	}

	// A new day resets the once-per-day latch.
	day2 := day1.Add(24 * time.Hour)
	m.WithClock(func() time.Time { return day2 })
	m.Sweep(context.Background())
	if !m.warnedDay.Equal(day2) {
		t.Error("warning latch did not roll to the new day")
	}
}

func TestEODDue(t *testing.T) {
	t.Parallel()

	m := newManager(&fakeLedger{})
	at := func(h, min int) time.Time {
		return time.Date(2026, 8, 26, h, min, 0, 0, easternTZ)
	}

	m.WithClock(func() time.Time { return at(16, 0) })
	if m.eodDue(time.Time{}) {
		t.Error("16:00 is before the 16:15 cutoff")
	}

	m.WithClock(func() time.Time { return at(16, 15) })
	if !m.eodDue(time.Time{}) {
		t.Error("16:15 should trigger the first report")
	}
	if m.eodDue(at(16, 15)) {
		t.Error("report already sent today")
	}

	m.WithClock(func() time.Time { return at(16, 30).Add(24 * time.Hour) })
	if !m.eodDue(at(16, 15)) {
		t.Error("next day should trigger again")
	}
}

func TestSummaries(t *testing.T) {
	t.Parallel()

	store := &fakeLedger{
		accounts: []ledger.PropFirmAccount{challengeAccount("acct_a")},
		pnl:      map[string]decimal.Decimal{"acct_a": dec("5000")},
	}
	sums, err := newManager(store).Summaries()
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("summaries = %d, want 1", len(sums))
	}
	s := sums[0]
	if !s.Equity.Equal(dec("105000")) {
		t.Errorf("equity = %s, want 105000", s.Equity)
	}
	if !s.ProgressPct.Equal(dec("50")) {
		t.Errorf("progress = %s, want 50", s.ProgressPct)
	}
	if !s.Passing {
		t.Error("profitable account should be passing")
	}
}

func TestEndOfDayReportRunsWithoutNotifier(t *testing.T) {
	t.Parallel()

	store := &fakeLedger{
		trades: []ledger.Trade{
			{TradeID: "trd_001", Symbol: "AAPL", Status: types.StatusFilled},
			{TradeID: "trd_002", Symbol: "AAPL", Status: types.StatusPartial},
			{TradeID: "trd_003", Symbol: "MSFT", Status: types.StatusRejected},
		},
		dailyPnL: dec("125.50"),
		open:     []string{"AAPL"},
	}
	newManager(store).EndOfDayReport()
}
