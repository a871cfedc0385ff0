package planner

import "digger/internal/types"

// Per-1k-token cost and per-item base time, by strategy. Parser-only work
// costs nothing; vision calls are the slowest and priciest.
var strategyRates = map[string]struct {
	costPer1k   float64
	baseSeconds float64
	perTokenSec float64
}{
	types.StrategyParserOnly:    {0, 0.5, 0},
	types.StrategyParserPlusLLM: {0.002, 3, 0.0005},
	types.StrategyLLMOnly:       {0.002, 3, 0.0005},
	types.StrategyVLMExtract:    {0.01, 8, 0.001},
	types.StrategySkip:          {0, 0, 0},
}

// Estimate projects the cost of processing one item from its size and
// strategy. Tokens are approximated at four bytes each.
func Estimate(sizeBytes int64, strategy string) types.Estimate {
	tokens := sizeBytes / 4
	rate, ok := strategyRates[strategy]
	if !ok {
		rate = strategyRates[types.StrategyLLMOnly]
	}
	return types.Estimate{
		Tokens:      tokens,
		CostUSD:     rate.costPer1k * float64(tokens) / 1000,
		TimeSeconds: rate.baseSeconds + rate.perTokenSec*float64(tokens),
	}
}
