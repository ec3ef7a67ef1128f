// Package propfirm runs the funded-trader challenge evaluations. A periodic
// sweep re-derives every active account's P&L from the ledger and applies
// the firm's rules: drawdown breach fails the account and kills its trading,
// hitting the profit target parks the account for manual phase advancement,
// and approaching the drawdown limit raises an early warning.
package propfirm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/config"
	"proptrader/internal/ledger"
	"proptrader/internal/notifier"
	"proptrader/pkg/types"
)

// Ledger is the store surface the evaluation sweeps read and write.
type Ledger interface {
	ActiveAccounts() ([]ledger.PropFirmAccount, error)
	SaveAccount(a *ledger.PropFirmAccount) error
	TotalRealizedPnL(brokerAccountID string) (decimal.Decimal, error)
	DailyRealizedPnL(now time.Time, brokerAccountID string) (decimal.Decimal, error)
	TradesToday(now time.Time) ([]ledger.Trade, error)
	OpenPositionSymbols() ([]string, error)
}

// Manager owns the compliance and end-of-day sweeps.
type Manager struct {
	store    Ledger
	notifier *notifier.Notifier

	interval  time.Duration
	warnRatio decimal.Decimal
	eodHour   int
	eodMinute int

	now func() time.Time
	log *slog.Logger

	mu        sync.Mutex
	warned    map[uint]bool // account ID → drawdown warning already sent today
	warnedDay time.Time
}

// NewManager builds the evaluation manager. cfg must have passed Validate.
func NewManager(store Ledger, n *notifier.Notifier, cfg config.SweepConfig, log *slog.Logger) *Manager {
	clock, _ := config.ParseClock(cfg.EODTime)
	return &Manager{
		store:     store,
		notifier:  n,
		interval:  cfg.Interval,
		warnRatio: decimal.NewFromFloat(cfg.WarnRatio),
		eodHour:   clock[0],
		eodMinute: clock[1],
		now:       time.Now,
		log:       log.With("component", "propfirm"),
		warned:    map[uint]bool{},
	}
}

// WithClock replaces the manager's clock. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Run sweeps on the configured interval and fires the end-of-day report
// once per day at the configured Eastern wall-clock time.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var lastEOD time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
			if m.eodDue(lastEOD) {
				m.EndOfDayReport()
				lastEOD = m.now()
			}
		}
	}
}

func (m *Manager) eodDue(lastEOD time.Time) bool {
	now := m.now().In(easternTZ)
	if now.Hour() < m.eodHour || (now.Hour() == m.eodHour && now.Minute() < m.eodMinute) {
		return false
	}
	last := lastEOD.In(easternTZ)
	return lastEOD.IsZero() || last.YearDay() != now.YearDay() || last.Year() != now.Year()
}

var easternTZ = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*3600)
	}
	return loc
}

// Sweep evaluates every active account once. Failures on one account never
// block the rest.
func (m *Manager) Sweep(ctx context.Context) {
	accounts, err := m.store.ActiveAccounts()
	if err != nil {
		m.log.Error("loading accounts for sweep", "error", err)
		return
	}
	for i := range accounts {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.evaluate(&accounts[i])
	}
}

// evaluate applies the firm's rules to one account in priority order:
// compliance breach, then profit target, then the drawdown early warning.
func (m *Manager) evaluate(acct *ledger.PropFirmAccount) {
	totalPnL, err := m.store.TotalRealizedPnL(acct.BrokerAccountID)
	if err != nil {
		m.log.Error("deriving account pnl", "account", acct.Name, "error", err)
		return
	}

	if ok, reason := acct.CheckCompliance(totalPnL); !ok {
		m.failAccount(acct, reason)
		return
	}

	if acct.Phase != ledger.PhaseFunded && totalPnL.GreaterThanOrEqual(acct.ProfitTargetAmount()) && acct.ProfitTargetAmount().IsPositive() {
		m.passPhase(acct, totalPnL)
		return
	}

	m.maybeWarnDrawdown(acct, totalPnL)
}

// failAccount marks the account failed and halts its trading. This is the
// only automatic phase transition: everything else needs the firm's
// confirmation.
func (m *Manager) failAccount(acct *ledger.PropFirmAccount, reason string) {
	if acct.Phase == ledger.PhaseFailed && !acct.IsActive {
		return
	}
	acct.Phase = ledger.PhaseFailed
	acct.IsActive = false
	if err := m.store.SaveAccount(acct); err != nil {
		m.log.Error("saving failed account", "account", acct.Name, "error", err)
		return
	}
	m.log.Error("account failed challenge", "account", acct.Name, "reason", reason)
	m.notifier.AccountFailed(acct.Name, reason)
}

// passPhase deactivates a passing account without advancing its phase.
// Prop firms confirm phase promotions out of band; trading resumes when the
// operator re-activates the account in its new phase.
func (m *Manager) passPhase(acct *ledger.PropFirmAccount, totalPnL decimal.Decimal) {
	if !acct.IsActive {
		return
	}
	acct.IsActive = false
	if err := m.store.SaveAccount(acct); err != nil {
		m.log.Error("saving passed account", "account", acct.Name, "error", err)
		return
	}
	m.log.Info("profit target reached",
		"account", acct.Name, "phase", acct.Phase, "pnl", totalPnL.StringFixed(2))
	m.notifier.ProfitTargetReached(acct.Name, totalPnL)
}

// maybeWarnDrawdown raises one warning per account per day once drawdown
// crosses warnRatio of the firm's limit.
func (m *Manager) maybeWarnDrawdown(acct *ledger.PropFirmAccount, totalPnL decimal.Decimal) {
	if acct.MaxTotalDrawdownPct.Sign() <= 0 {
		return
	}
	dd := acct.TotalDrawdownPct(totalPnL)
	threshold := acct.MaxTotalDrawdownPct.Mul(m.warnRatio)
	if dd.LessThan(threshold) {
		return
	}

	m.mu.Lock()
	today := m.now().In(easternTZ)
	if today.YearDay() != m.warnedDay.YearDay() || today.Year() != m.warnedDay.Year() {
		m.warned = map[uint]bool{}
		m.warnedDay = today
	}
	already := m.warned[acct.ID]
	m.warned[acct.ID] = true
	m.mu.Unlock()
	if already {
		return
	}

	m.log.Warn("drawdown approaching limit",
		"account", acct.Name, "drawdown_pct", dd.StringFixed(2),
		"limit_pct", acct.MaxTotalDrawdownPct.String())
	m.notifier.DrawdownWarning(acct.Name, dd, acct.MaxTotalDrawdownPct)
}

// EndOfDayReport posts the day's activity across all accounts: trade
// count, realized P&L, and the symbols still open.
func (m *Manager) EndOfDayReport() {
	now := m.now()

	trades, err := m.store.TradesToday(now)
	if err != nil {
		m.log.Error("eod trades", "error", err)
		return
	}
	filled := 0
	for _, t := range trades {
		if t.Status == types.StatusFilled || t.Status == types.StatusPartial {
			filled++
		}
	}
	pnl, err := m.store.DailyRealizedPnL(now, "")
	if err != nil {
		m.log.Error("eod realized pnl", "error", err)
		return
	}
	openSymbols, err := m.store.OpenPositionSymbols()
	if err != nil {
		m.log.Error("eod open positions", "error", err)
		openSymbols = nil
	}

	m.log.Info("end of day report",
		"trades", len(trades), "filled", filled, "realized_pnl", pnl.StringFixed(2),
		"open_positions", strings.Join(openSymbols, ","))
	m.notifier.DailyReport(len(trades), filled, pnl, openSymbols)
}

// Summary is a point-in-time snapshot of one account for operators.
type Summary struct {
	Name        string          `json:"name"`
	Firm        string          `json:"firm"`
	Phase       string          `json:"phase"`
	Active      bool            `json:"active"`
	Equity      decimal.Decimal `json:"equity"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	DrawdownPct decimal.Decimal `json:"drawdown_pct"`
	ProgressPct decimal.Decimal `json:"progress_pct"`
	Passing     bool            `json:"passing"`
}

// Summaries derives a snapshot for every active account.
func (m *Manager) Summaries() ([]Summary, error) {
	accounts, err := m.store.ActiveAccounts()
	if err != nil {
		return nil, fmt.Errorf("propfirm: load accounts: %w", err)
	}
	out := make([]Summary, 0, len(accounts))
	for _, acct := range accounts {
		pnl, err := m.store.TotalRealizedPnL(acct.BrokerAccountID)
		if err != nil {
			return nil, fmt.Errorf("propfirm: pnl for %s: %w", acct.Name, err)
		}
		out = append(out, Summary{
			Name:        acct.Name,
			Firm:        acct.Firm,
			Phase:       string(acct.Phase),
			Active:      acct.IsActive,
			Equity:      acct.CurrentEquity(pnl),
			TotalPnL:    pnl,
			DrawdownPct: acct.TotalDrawdownPct(pnl),
			ProgressPct: acct.ProgressPct(pnl),
			Passing:     acct.IsPassing(pnl),
		})
	}
	return out, nil
}
