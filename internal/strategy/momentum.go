package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"proptrader/internal/indicators"
	"proptrader/pkg/types"
)

// MomentumBreakout buys stocks breaking out above resistance on volume.
//
// Entry (all must hold): close > SMA(20); RSI(14) in [40, 70]; volume >
// 1.5x the 20-bar average; close above the prior bar's high.
// Exit (any): RSI > 80; close < EMA(9); stop loss; take profit.
type MomentumBreakout struct {
	smaPeriod         int
	rsiPeriod         int
	volumeMultiplier  float64
	rsiEntryLow       float64
	rsiEntryHigh      float64
	rsiExitOverbought float64
	riskPerTradePct   decimal.Decimal
	stopLossPct       decimal.Decimal
	takeProfitPct     decimal.Decimal
}

// NewMomentumBreakout builds the strategy with defaults overridable per key.
func NewMomentumBreakout(params Params) *MomentumBreakout {
	return &MomentumBreakout{
		smaPeriod:         params.Int("sma_period", 20),
		rsiPeriod:         params.Int("rsi_period", 14),
		volumeMultiplier:  params.Float("volume_multiplier", 1.5),
		rsiEntryLow:       params.Float("rsi_entry_low", 40),
		rsiEntryHigh:      params.Float("rsi_entry_high", 70),
		rsiExitOverbought: params.Float("rsi_exit_overbought", 80),
		riskPerTradePct:   decimal.NewFromFloat(params.Float("risk_per_trade_pct", 2.0)),
		stopLossPct:       decimal.NewFromFloat(params.Float("stop_loss_pct", 3.0)),
		takeProfitPct:     decimal.NewFromFloat(params.Float("take_profit_pct", 6.0)),
	}
}

func (s *MomentumBreakout) Name() string { return "momentum_breakout" }

func (s *MomentumBreakout) GenerateSignal(ticker string, bars []types.Bar) types.Signal {
	if len(bars) < s.smaPeriod+1 {
		return hold(ticker, s.Name(), "Not enough data")
	}

	cl := closes(bars)
	vol := volumes(bars)

	smaValues := indicators.SMA(cl, s.smaPeriod)
	rsiValues := indicators.RSI(cl, s.rsiPeriod)

	avgVolume := 0.0
	for _, v := range vol[len(vol)-s.smaPeriod:] {
		avgVolume += v
	}
	avgVolume /= float64(s.smaPeriod)

	last := len(bars) - 1
	currentClose := cl[last]
	currentRSI := rsiValues[last]
	currentSMA := smaValues[last]
	currentVol := vol[last]
	priorHigh := bars[last-1].High

	aboveSMA := currentClose > currentSMA
	rsiInRange := currentRSI >= s.rsiEntryLow && currentRSI <= s.rsiEntryHigh
	volumeSurge := currentVol > avgVolume*s.volumeMultiplier
	breakout := currentClose > priorHigh

	if aboveSMA && rsiInRange && volumeSurge && breakout {
		return types.Signal{
			Action:     types.ActionBuy,
			Ticker:     ticker,
			Price:      decimal.NewFromFloat(currentClose),
			Confidence: math.Min(currentRSI/100, 0.95),
			Reason: fmt.Sprintf("Breakout: close $%.2f > SMA20 $%.2f, RSI %.1f, vol %.1fx avg",
				currentClose, currentSMA, currentRSI, currentVol/avgVolume),
			StrategyName: s.Name(),
		}
	}

	return hold(ticker, s.Name(), "No breakout signal")
}

func (s *MomentumBreakout) CheckExit(ticker string, entryPrice, currentPrice decimal.Decimal, bars []types.Bar) types.Signal {
	if len(bars) == 0 {
		return hold(ticker, s.Name(), "")
	}
	if sig, ok := standardExit(s.Name(), ticker, entryPrice, currentPrice, s.stopLossPct, s.takeProfitPct); ok {
		return sig
	}

	cl := closes(bars)
	last := len(cl) - 1

	rsiValues := indicators.RSI(cl, s.rsiPeriod)
	if rsiValues[last] > s.rsiExitOverbought {
		return types.Signal{
			Action: types.ActionSell, Ticker: ticker, Price: currentPrice,
			Reason:       fmt.Sprintf("RSI overbought: %.1f > %.0f", rsiValues[last], s.rsiExitOverbought),
			StrategyName: s.Name(),
		}
	}

	emaValues := indicators.EMA(cl, 9)
	if cl[last] < emaValues[last] {
		return types.Signal{
			Action: types.ActionSell, Ticker: ticker, Price: currentPrice,
			Reason:       fmt.Sprintf("Price $%.2f below EMA9 $%.2f", cl[last], emaValues[last]),
			StrategyName: s.Name(),
		}
	}

	return hold(ticker, s.Name(), "")
}

func (s *MomentumBreakout) CalculatePositionSize(_ string, price, equity decimal.Decimal) decimal.Decimal {
	return riskSizedShares(price, equity, s.riskPerTradePct, s.stopLossPct)
}

var _ Strategy = (*MomentumBreakout)(nil)
