// Package allocator sizes capital. The Kelly engine converts a strategy's
// historical win/loss profile into a fraction of equity to risk per trade,
// and the portfolio allocator splits total equity across active strategies
// by statistical edge.
package allocator

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// KellyMode scales the raw Kelly fraction. Full Kelly is mathematically
// optimal for growth but brutally volatile in practice.
type KellyMode string

const (
	KellyFull    KellyMode = "full"
	KellyHalf    KellyMode = "half"
	KellyQuarter KellyMode = "quarter"
)

// minResolvedTrades is the number of realized outcomes needed before the
// engine trusts a strategy's statistics.
const minResolvedTrades = 10

// Performance is a strategy's realized win/loss profile. AvgWin and AvgLoss
// are both positive magnitudes.
type Performance struct {
	WinRate decimal.Decimal
	AvgWin  decimal.Decimal
	AvgLoss decimal.Decimal
}

// Expectancy is the expected P&L per trade given this profile.
func (p Performance) Expectancy() decimal.Decimal {
	lossRate := decimal.NewFromInt(1).Sub(p.WinRate)
	return p.WinRate.Mul(p.AvgWin).Sub(lossRate.Mul(p.AvgLoss))
}

// KellyEngine computes position sizes from trade history.
type KellyEngine struct {
	mode KellyMode
	log  *slog.Logger
}

// NewKellyEngine builds an engine; an unknown mode falls back to half.
func NewKellyEngine(mode KellyMode, log *slog.Logger) *KellyEngine {
	switch mode {
	case KellyFull, KellyHalf, KellyQuarter:
	default:
		log.Warn("invalid kelly mode, defaulting to half", "mode", string(mode))
		mode = KellyHalf
	}
	return &KellyEngine{mode: mode, log: log}
}

// CalculateFraction returns the fraction of equity to risk, in [0, 1].
// Degenerate inputs and negative-edge profiles return 0: a strategy with no
// statistical edge should sit in cash.
func (e *KellyEngine) CalculateFraction(p Performance) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if !p.WinRate.IsPositive() || p.WinRate.GreaterThanOrEqual(one) {
		return decimal.Zero
	}
	if !p.AvgWin.IsPositive() || !p.AvgLoss.IsPositive() {
		return decimal.Zero
	}

	// f* = W - L/R where R is the payoff ratio AvgWin/AvgLoss, written
	// with the multiply before the divide so clean fractions stay exact.
	fraction := p.WinRate.Sub(one.Sub(p.WinRate).Mul(p.AvgLoss).Div(p.AvgWin))
	if !fraction.IsPositive() {
		return decimal.Zero
	}

	switch e.mode {
	case KellyHalf:
		fraction = fraction.Div(decimal.NewFromInt(2))
	case KellyQuarter:
		fraction = fraction.Div(decimal.NewFromInt(4))
	}
	if fraction.GreaterThan(one) {
		return one
	}
	return fraction
}

// CalculatePositionSize converts a Kelly fraction into a share quantity via
// the distance to the stop loss. Without a stop there is no defined risk
// per share and the size is zero.
func (e *KellyEngine) CalculatePositionSize(equity, fraction, entryPrice, stopPrice decimal.Decimal) decimal.Decimal {
	if !fraction.IsPositive() || !entryPrice.IsPositive() || !stopPrice.IsPositive() {
		return decimal.Zero
	}
	riskPerShare := entryPrice.Sub(stopPrice).Abs()
	if riskPerShare.IsZero() {
		return decimal.Zero
	}
	return equity.Mul(fraction).Div(riskPerShare)
}

// PerformanceFromOutcomes derives a win/loss profile from realized P&L
// values. Returns false until at least 10 resolved outcomes exist;
// break-even trades do not count as resolved.
func PerformanceFromOutcomes(outcomes []decimal.Decimal) (Performance, bool) {
	var wins, losses int64
	winSum, lossSum := decimal.Zero, decimal.Zero
	for _, pnl := range outcomes {
		switch pnl.Sign() {
		case 1:
			wins++
			winSum = winSum.Add(pnl)
		case -1:
			losses++
			lossSum = lossSum.Sub(pnl)
		}
	}
	resolved := wins + losses
	if resolved < minResolvedTrades {
		return Performance{}, false
	}

	p := Performance{
		WinRate: decimal.NewFromInt(wins).Div(decimal.NewFromInt(resolved)),
	}
	if wins > 0 {
		p.AvgWin = winSum.Div(decimal.NewFromInt(wins))
	}
	if losses > 0 {
		p.AvgLoss = lossSum.Div(decimal.NewFromInt(losses))
	}
	return p, true
}
