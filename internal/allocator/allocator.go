package allocator

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// PerformanceSource supplies realized outcomes per strategy. The ledger
// store satisfies this.
type PerformanceSource interface {
	StrategyOutcomes(strategy string, limit int) ([]decimal.Decimal, error)
}

// outcomeLookback caps how much history feeds the edge statistics.
const outcomeLookback = 200

// PortfolioAllocator distributes total equity across active strategies.
// Every strategy starts with a base score of 1 so it always receives some
// capital; a proven positive expectancy boosts its share.
type PortfolioAllocator struct {
	perf PerformanceSource
	log  *slog.Logger
}

// New builds a PortfolioAllocator reading history from perf.
func New(perf PerformanceSource, log *slog.Logger) *PortfolioAllocator {
	return &PortfolioAllocator{perf: perf, log: log}
}

// Allocations maps each strategy name to its capital share. Weights are
// normalized so the shares sum to totalEquity. An empty strategy list
// returns an empty map.
func (a *PortfolioAllocator) Allocations(totalEquity decimal.Decimal, strategies []string) map[string]decimal.Decimal {
	allocations := make(map[string]decimal.Decimal, len(strategies))
	if len(strategies) == 0 {
		return allocations
	}

	scores := make(map[string]decimal.Decimal, len(strategies))
	totalScore := decimal.Zero

	for _, name := range strategies {
		score := decimal.NewFromInt(1)

		outcomes, err := a.perf.StrategyOutcomes(name, outcomeLookback)
		if err != nil {
			a.log.Warn("allocator falling back to base score", "strategy", name, "error", err)
		} else if p, ok := PerformanceFromOutcomes(outcomes); ok {
			if edge := p.Expectancy(); edge.IsPositive() {
				score = score.Add(edge)
			}
		}

		scores[name] = score
		totalScore = totalScore.Add(score)
	}

	for name, score := range scores {
		weight := score.Div(totalScore)
		capital := totalEquity.Mul(weight)
		allocations[name] = capital
		a.log.Info("strategy allocation",
			"strategy", name,
			"weight_pct", weight.Mul(decimal.NewFromInt(100)).StringFixed(1),
			"capital", capital.StringFixed(2))
	}
	return allocations
}
