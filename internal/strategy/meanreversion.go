package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"proptrader/internal/indicators"
	"proptrader/pkg/types"
)

// MeanReversion buys oversold stocks expected to revert to their mean.
//
// Entry (all must hold): close below the lower Bollinger Band (20, 2 sigma);
// Z-score below -1.5; RSI(14) below 35; close above SMA(200) so only
// long-term uptrends are traded.
// Exit (any): close back above SMA(20); RSI above 60; stop loss; take profit.
type MeanReversion struct {
	bbPeriod        int
	bbStdDevs       float64
	zscoreThreshold float64
	rsiEntry        float64
	rsiExit         float64
	smaTrendPeriod  int
	riskPerTradePct decimal.Decimal
	stopLossPct     decimal.Decimal
	takeProfitPct   decimal.Decimal
}

// NewMeanReversion builds the strategy with defaults overridable per key.
// The stop is wider than momentum's: mean reversion entries expect to sit
// through drawdown before the bounce.
func NewMeanReversion(params Params) *MeanReversion {
	return &MeanReversion{
		bbPeriod:        params.Int("bb_period", 20),
		bbStdDevs:       params.Float("bb_std_devs", 2.0),
		zscoreThreshold: params.Float("zscore_threshold", -1.5),
		rsiEntry:        params.Float("rsi_entry_threshold", 35),
		rsiExit:         params.Float("rsi_exit_threshold", 60),
		smaTrendPeriod:  params.Int("sma_trend_period", 200),
		riskPerTradePct: decimal.NewFromFloat(params.Float("risk_per_trade_pct", 1.5)),
		stopLossPct:     decimal.NewFromFloat(params.Float("stop_loss_pct", 5.0)),
		takeProfitPct:   decimal.NewFromFloat(params.Float("take_profit_pct", 4.0)),
	}
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) GenerateSignal(ticker string, bars []types.Bar) types.Signal {
	if len(bars) < s.smaTrendPeriod {
		return hold(ticker, s.Name(), "Not enough data for trend filter")
	}

	cl := closes(bars)
	last := len(cl) - 1

	_, _, lower := indicators.BollingerBands(cl, s.bbPeriod, s.bbStdDevs)
	zValues := indicators.ZScore(cl, s.bbPeriod)
	rsiValues := indicators.RSI(cl, 14)
	smaTrend := indicators.SMA(cl, s.smaTrendPeriod)

	currentClose := cl[last]
	currentZ := zValues[last]
	currentRSI := rsiValues[last]

	belowLowerBB := currentClose < lower[last]
	zscoreOversold := currentZ < s.zscoreThreshold
	rsiOversold := currentRSI < s.rsiEntry
	inUptrend := currentClose > smaTrend[last]

	if belowLowerBB && zscoreOversold && rsiOversold && inUptrend {
		return types.Signal{
			Action:     types.ActionBuy,
			Ticker:     ticker,
			Price:      decimal.NewFromFloat(currentClose),
			Confidence: math.Min(math.Abs(currentZ)/3.0, 0.95),
			Reason: fmt.Sprintf("Mean reversion: Z=%.2f, RSI=%.1f, close $%.2f < BB lower $%.2f",
				currentZ, currentRSI, currentClose, lower[last]),
			StrategyName: s.Name(),
		}
	}

	return hold(ticker, s.Name(), "No mean reversion signal")
}

func (s *MeanReversion) CheckExit(ticker string, entryPrice, currentPrice decimal.Decimal, bars []types.Bar) types.Signal {
	if len(bars) == 0 {
		return hold(ticker, s.Name(), "")
	}
	if sig, ok := standardExit(s.Name(), ticker, entryPrice, currentPrice, s.stopLossPct, s.takeProfitPct); ok {
		return sig
	}

	cl := closes(bars)
	last := len(cl) - 1

	smaValues := indicators.SMA(cl, s.bbPeriod)
	if cl[last] > smaValues[last] && smaValues[last] > 0 {
		return types.Signal{
			Action: types.ActionSell, Ticker: ticker, Price: currentPrice,
			Reason:       fmt.Sprintf("Mean reverted: close $%.2f > SMA20 $%.2f", cl[last], smaValues[last]),
			StrategyName: s.Name(),
		}
	}

	rsiValues := indicators.RSI(cl, 14)
	if rsiValues[last] > s.rsiExit {
		return types.Signal{
			Action: types.ActionSell, Ticker: ticker, Price: currentPrice,
			Reason:       fmt.Sprintf("RSI recovered: %.1f > %.0f", rsiValues[last], s.rsiExit),
			StrategyName: s.Name(),
		}
	}

	return hold(ticker, s.Name(), "")
}

func (s *MeanReversion) CalculatePositionSize(_ string, price, equity decimal.Decimal) decimal.Decimal {
	return riskSizedShares(price, equity, s.riskPerTradePct, s.stopLossPct)
}

var _ Strategy = (*MeanReversion)(nil)
