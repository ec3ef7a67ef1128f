// Package strategy holds the pluggable trading strategies and the periodic
// runner that evaluates them. A strategy is pure decision logic over a bar
// window; sizing, filtering, and execution live around it.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"proptrader/internal/ledger"
	"proptrader/pkg/types"
)

// Strategy is the contract every trading strategy implements.
//
// GenerateSignal decides a buy/hold entry at the last bar of the window.
// CheckExit decides whether an open position should close, running the
// standard ladder (stop loss, take profit) before strategy-specific
// reversal conditions. CalculatePositionSize converts a price and the
// strategy's equity budget into a share quantity.
type Strategy interface {
	Name() string
	GenerateSignal(ticker string, bars []types.Bar) types.Signal
	CheckExit(ticker string, entryPrice, currentPrice decimal.Decimal, bars []types.Bar) types.Signal
	CalculatePositionSize(ticker string, price, equity decimal.Decimal) decimal.Decimal
}

// Params is the strategy's keyed parameter bag from its database row.
type Params map[string]any

// Float reads a numeric parameter, accepting the types JSON decoding
// produces, with a default when absent or malformed.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Int reads an integer parameter with a default.
func (p Params) Int(key string, def int) int {
	return int(p.Float(key, float64(def)))
}

// String reads a string parameter with a default.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// FromConfig constructs the concrete strategy named by the definition's
// custom_params["strategy_type"] selector, falling back to the row name.
func FromConfig(sc ledger.StrategyConfig) (Strategy, error) {
	params := Params(sc.CustomParams)
	kind := params.String("strategy_type", sc.Name)

	switch kind {
	case "momentum_breakout":
		return NewMomentumBreakout(params), nil
	case "mean_reversion":
		return NewMeanReversion(params), nil
	case "sector_rotation":
		return NewSectorRotation(params), nil
	case "smart_dca":
		return NewSmartDCA(params), nil
	default:
		return nil, fmt.Errorf("strategy: unknown strategy type %q", kind)
	}
}

func hold(ticker, strategyName, reason string) types.Signal {
	return types.Signal{
		Action:       types.ActionHold,
		Ticker:       ticker,
		Reason:       reason,
		StrategyName: strategyName,
	}
}

func closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func volumes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// pctChange returns (to - from) / from * 100 as a decimal, zero when from
// is not positive.
func pctChange(from, to decimal.Decimal) decimal.Decimal {
	if !from.IsPositive() {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(decimal.NewFromInt(100))
}

// standardExit runs the stop-loss and take-profit ladder shared by every
// strategy. The bool reports whether an exit fired.
func standardExit(name, ticker string, entryPrice, currentPrice decimal.Decimal, stopLossPct, takeProfitPct decimal.Decimal) (types.Signal, bool) {
	lossPct := pctChange(entryPrice, currentPrice).Neg()
	if lossPct.GreaterThanOrEqual(stopLossPct) {
		return types.Signal{
			Action: types.ActionSell, Ticker: ticker, Price: currentPrice,
			Reason:       fmt.Sprintf("Stop loss hit: -%s%% (limit: %s%%)", lossPct.StringFixed(1), stopLossPct.String()),
			StrategyName: name,
		}, true
	}

	gainPct := pctChange(entryPrice, currentPrice)
	if gainPct.GreaterThanOrEqual(takeProfitPct) {
		return types.Signal{
			Action: types.ActionSell, Ticker: ticker, Price: currentPrice,
			Reason:       fmt.Sprintf("Take profit hit: +%s%% (target: %s%%)", gainPct.StringFixed(1), takeProfitPct.String()),
			StrategyName: name,
		}, true
	}
	return types.Signal{}, false
}

// riskSizedShares sizes a position so the stop-loss distance risks riskPct
// of equity, floored at one share.
func riskSizedShares(price, equity decimal.Decimal, riskPct, stopLossPct decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.NewFromInt(1)
	}
	riskAmount := equity.Mul(riskPct).Div(decimal.NewFromInt(100))
	stopDistance := price.Mul(stopLossPct).Div(decimal.NewFromInt(100))
	if !stopDistance.IsPositive() {
		return decimal.NewFromInt(1)
	}
	shares := riskAmount.Div(stopDistance).Floor()
	if shares.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return shares
}
