package strategy

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"proptrader/internal/indicators"
	"proptrader/pkg/types"
)

// SmartDCA accumulates long-term positions by buying dips. It buys when
// price is below SMA(50) or RSI(14) is oversold, and never exits on its
// own: positions are closed by operator action only.
type SmartDCA struct {
	smaPeriod    int
	rsiPeriod    int
	rsiThreshold float64
	dcaAmount    decimal.Decimal
}

// NewSmartDCA builds the strategy with defaults overridable per key.
func NewSmartDCA(params Params) *SmartDCA {
	return &SmartDCA{
		smaPeriod:    params.Int("sma_period", 50),
		rsiPeriod:    params.Int("rsi_period", 14),
		rsiThreshold: params.Float("rsi_threshold", 40),
		dcaAmount:    decimal.NewFromFloat(params.Float("dca_amount", 500)),
	}
}

func (s *SmartDCA) Name() string { return "smart_dca" }

func (s *SmartDCA) GenerateSignal(ticker string, bars []types.Bar) types.Signal {
	need := s.smaPeriod
	if s.rsiPeriod > need {
		need = s.rsiPeriod
	}
	if len(bars) < need+1 {
		return hold(ticker, s.Name(), "Not enough data")
	}

	cl := closes(bars)
	last := len(cl) - 1

	smaValues := indicators.SMA(cl, s.smaPeriod)
	rsiValues := indicators.RSI(cl, s.rsiPeriod)

	currentClose := cl[last]
	currentSMA := smaValues[last]
	currentRSI := rsiValues[last]

	belowSMA := currentClose < currentSMA
	oversold := currentRSI < s.rsiThreshold

	if belowSMA || oversold {
		var reasons []string
		if belowSMA {
			reasons = append(reasons, fmt.Sprintf("Close $%.2f < SMA%d $%.2f", currentClose, s.smaPeriod, currentSMA))
		}
		if oversold {
			reasons = append(reasons, fmt.Sprintf("RSI(%d) %.1f < %.0f", s.rsiPeriod, currentRSI, s.rsiThreshold))
		}
		return types.Signal{
			Action:       types.ActionBuy,
			Ticker:       ticker,
			Price:        decimal.NewFromFloat(currentClose),
			Confidence:   math.Min((100-currentRSI)/100, 0.95),
			Reason:       "Smart DCA dip: " + strings.Join(reasons, " AND "),
			StrategyName: s.Name(),
		}
	}

	return hold(ticker, s.Name(), "Price is elevated, waiting for dip")
}

// CheckExit never fires: DCA is accumulation only.
func (s *SmartDCA) CheckExit(ticker string, _, _ decimal.Decimal, _ []types.Bar) types.Signal {
	return hold(ticker, s.Name(), "")
}

// CalculatePositionSize spends a fixed dollar amount per dip, capped below
// available equity, and returns 0 when one share is unaffordable.
func (s *SmartDCA) CalculatePositionSize(_ string, price, equity decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.NewFromInt(1)
	}
	buyAmount := s.dcaAmount
	if buyAmount.GreaterThan(equity) {
		buyAmount = equity.Mul(decimal.NewFromFloat(0.95))
	}
	if buyAmount.LessThan(price) {
		return decimal.Zero
	}
	shares := buyAmount.Div(price).Floor()
	if shares.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return shares
}

var _ Strategy = (*SmartDCA)(nil)
