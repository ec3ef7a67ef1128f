package strategy

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"proptrader/internal/allocator"
	"proptrader/internal/indicators"
	"proptrader/pkg/types"
)

// Trend labels for the benchmark regime.
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendRanging = "ranging"
	TrendUnknown = "unknown"
)

// Volatility labels.
const (
	VolHigh    = "high"
	VolLow     = "low"
	VolNeutral = "neutral"
)

// Regime describes the macro environment derived from a benchmark series.
type Regime struct {
	Trend                string
	Volatility           string
	IsCrashMode          bool
	AnnualizedVolatility float64
}

// DetectRegime classifies the market from benchmark daily bars. Under 20
// bars there is not enough information and the regime is unknown.
func DetectRegime(bars []types.Bar) Regime {
	if len(bars) < 20 {
		return Regime{Trend: TrendUnknown, Volatility: VolNeutral}
	}

	cl := closes(bars)
	last := len(cl) - 1

	vol := indicators.AnnualizedVolatility(cl, len(cl)-1)

	var trend string
	sma20 := indicators.SMA(cl, 20)
	if len(cl) >= 50 {
		sma50 := indicators.SMA(cl, 50)
		switch {
		case cl[last] > sma20[last] && sma20[last] > sma50[last]:
			trend = TrendBullish
		case cl[last] < sma20[last] && sma20[last] < sma50[last]:
			trend = TrendBearish
		default:
			trend = TrendRanging
		}
	} else {
		if cl[last] > sma20[last] {
			trend = TrendBullish
		} else {
			trend = TrendBearish
		}
	}

	volState := VolNeutral
	switch {
	case vol > 0.30:
		volState = VolHigh
	case vol < 0.15:
		volState = VolLow
	}

	recentDrop := cl[last]/cl[last-19] - 1
	isCrash := recentDrop < -0.10 && volState == VolHigh

	return Regime{
		Trend:                trend,
		Volatility:           volState,
		IsCrashMode:          isCrash,
		AnnualizedVolatility: vol,
	}
}

// Filters is the optional post-processing applied to raw strategy signals.
// Each filter either passes the signal through or downgrades it.
type Filters struct {
	ConfidenceThreshold float64
	MinPrice            decimal.Decimal
	MinAvgVolume        float64

	Kelly       *allocator.KellyEngine
	StopLossPct decimal.Decimal

	Log *slog.Logger
}

// ApplyConfidence downgrades buys whose model confidence is below the
// strategy's threshold. A zero threshold disables the filter.
func (f Filters) ApplyConfidence(sig types.Signal) types.Signal {
	if f.ConfidenceThreshold <= 0 || sig.Action != types.ActionBuy {
		return sig
	}
	if sig.Confidence < f.ConfidenceThreshold {
		return hold(sig.Ticker, sig.StrategyName,
			fmt.Sprintf("Confidence %.2f below threshold %.2f", sig.Confidence, f.ConfidenceThreshold))
	}
	return sig
}

// ApplyRegime blocks new entries during crash conditions. Exits always
// pass: a crash is the wrong time to stop selling.
func (f Filters) ApplyRegime(sig types.Signal, regime Regime) types.Signal {
	if sig.Action != types.ActionBuy {
		return sig
	}
	if regime.IsCrashMode {
		return hold(sig.Ticker, sig.StrategyName, "Regime filter: crash mode, no new entries")
	}
	return sig
}

// ApplyFundamental enforces basic tradability floors on buys: penny stocks
// and illiquid symbols are skipped regardless of the technical setup.
func (f Filters) ApplyFundamental(sig types.Signal, bars []types.Bar) types.Signal {
	if sig.Action != types.ActionBuy {
		return sig
	}
	if f.MinPrice.IsPositive() && sig.HasPrice() && sig.Price.LessThan(f.MinPrice) {
		return hold(sig.Ticker, sig.StrategyName,
			fmt.Sprintf("Price $%s below tradable floor $%s", sig.Price.StringFixed(2), f.MinPrice.StringFixed(2)))
	}
	if f.MinAvgVolume > 0 && len(bars) >= 20 {
		vol := volumes(bars)
		avg := 0.0
		for _, v := range vol[len(vol)-20:] {
			avg += v
		}
		avg /= 20
		if avg < f.MinAvgVolume {
			return hold(sig.Ticker, sig.StrategyName,
				fmt.Sprintf("Average volume %.0f below floor %.0f", avg, f.MinAvgVolume))
		}
	}
	return sig
}

// ApplyKellySizing overrides a buy's quantity with the Kelly-optimal size
// when enough realized history exists and the edge is positive. Without
// history or with a non-positive edge the heuristic quantity stands.
func (f Filters) ApplyKellySizing(sig types.Signal, equity decimal.Decimal, outcomes []decimal.Decimal) types.Signal {
	if f.Kelly == nil || sig.Action != types.ActionBuy || !sig.HasPrice() {
		return sig
	}
	perf, ok := allocator.PerformanceFromOutcomes(outcomes)
	if !ok {
		return sig
	}
	fraction := f.Kelly.CalculateFraction(perf)
	if !fraction.IsPositive() {
		return sig
	}

	stopPrice := sig.Price.Mul(decimal.NewFromInt(100).Sub(f.StopLossPct)).Div(decimal.NewFromInt(100))
	kellyQty := f.Kelly.CalculatePositionSize(equity, fraction, sig.Price, stopPrice).Floor()
	if !kellyQty.IsPositive() {
		return sig
	}

	if f.Log != nil && !kellyQty.Equal(sig.Quantity) {
		f.Log.Info("kelly sizing override",
			"symbol", sig.Ticker, "strategy", sig.StrategyName,
			"heuristic_qty", sig.Quantity.String(), "kelly_qty", kellyQty.String(),
			"fraction", fraction.StringFixed(4))
	}
	sig.Quantity = kellyQty
	return sig
}
