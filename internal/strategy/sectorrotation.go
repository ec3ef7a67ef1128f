package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"proptrader/internal/indicators"
	"proptrader/pkg/types"
)

// SectorRotation buys strong medium-term momentum in a long-term uptrend.
//
// Entry (all must hold): close > SMA(200); ROC(90) above the entry
// threshold. Exit (any): close < SMA(200); ROC(90) turns negative; stop
// loss; take profit. Sizing targets an equal split across target_sectors.
type SectorRotation struct {
	rocPeriod         int
	rocEntryThreshold float64
	smaTrendPeriod    int
	targetSectors     int64
	stopLossPct       decimal.Decimal
	takeProfitPct     decimal.Decimal
}

// NewSectorRotation builds the strategy with defaults overridable per key.
func NewSectorRotation(params Params) *SectorRotation {
	return &SectorRotation{
		rocPeriod:         params.Int("roc_period", 90),
		rocEntryThreshold: params.Float("roc_entry_threshold", 5.0),
		smaTrendPeriod:    params.Int("sma_trend_period", 200),
		targetSectors:     int64(params.Int("target_sectors", 5)),
		stopLossPct:       decimal.NewFromFloat(params.Float("stop_loss_pct", 8.0)),
		takeProfitPct:     decimal.NewFromFloat(params.Float("take_profit_pct", 15.0)),
	}
}

func (s *SectorRotation) Name() string { return "sector_rotation" }

func (s *SectorRotation) GenerateSignal(ticker string, bars []types.Bar) types.Signal {
	need := s.smaTrendPeriod
	if s.rocPeriod > need {
		need = s.rocPeriod
	}
	if len(bars) < need+1 {
		return hold(ticker, s.Name(), "Not enough data")
	}

	cl := closes(bars)
	last := len(cl) - 1

	smaValues := indicators.SMA(cl, s.smaTrendPeriod)
	rocValues := indicators.ROC(cl, s.rocPeriod)

	currentClose := cl[last]
	currentSMA := smaValues[last]
	currentROC := rocValues[last]

	inUptrend := currentClose > currentSMA
	strongMomentum := currentROC > s.rocEntryThreshold

	if inUptrend && strongMomentum {
		return types.Signal{
			Action:     types.ActionBuy,
			Ticker:     ticker,
			Price:      decimal.NewFromFloat(currentClose),
			Confidence: math.Min(currentROC/20.0, 0.95),
			Reason: fmt.Sprintf("Sector rotation: ROC(%d) %.2f%% > %.1f%%, close $%.2f > SMA200 $%.2f",
				s.rocPeriod, currentROC, s.rocEntryThreshold, currentClose, currentSMA),
			StrategyName: s.Name(),
		}
	}

	return hold(ticker, s.Name(), "No momentum rotation signal")
}

func (s *SectorRotation) CheckExit(ticker string, entryPrice, currentPrice decimal.Decimal, bars []types.Bar) types.Signal {
	if len(bars) == 0 {
		return hold(ticker, s.Name(), "")
	}
	if sig, ok := standardExit(s.Name(), ticker, entryPrice, currentPrice, s.stopLossPct, s.takeProfitPct); ok {
		return sig
	}

	cl := closes(bars)
	last := len(cl) - 1

	smaValues := indicators.SMA(cl, s.smaTrendPeriod)
	if cl[last] < smaValues[last] && smaValues[last] > 0 {
		return types.Signal{
			Action: types.ActionSell, Ticker: ticker, Price: currentPrice,
			Reason:       fmt.Sprintf("Trend broken: close $%.2f < SMA200 $%.2f", cl[last], smaValues[last]),
			StrategyName: s.Name(),
		}
	}

	rocValues := indicators.ROC(cl, s.rocPeriod)
	if rocValues[last] < 0 {
		return types.Signal{
			Action: types.ActionSell, Ticker: ticker, Price: currentPrice,
			Reason:       fmt.Sprintf("Momentum lost: ROC(%d) is negative (%.2f%%)", s.rocPeriod, rocValues[last]),
			StrategyName: s.Name(),
		}
	}

	return hold(ticker, s.Name(), "")
}

// CalculatePositionSize splits equity equally across the target sector
// count rather than risk-sizing by stop distance.
func (s *SectorRotation) CalculatePositionSize(_ string, price, equity decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.NewFromInt(1)
	}
	allocation := equity.Div(decimal.NewFromInt(s.targetSectors))
	shares := allocation.Div(price).Floor()
	if shares.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return shares
}

var _ Strategy = (*SectorRotation)(nil)
