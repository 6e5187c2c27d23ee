package llm

import "github.com/moltworks/colony/pkg/config"

// Cost computes the USD cost of one call from the model's per-1k pricing.
func Cost(spec *config.ModelSpec, inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1000*spec.InputCostPer1K +
		float64(outputTokens)/1000*spec.OutputCostPer1K
}
