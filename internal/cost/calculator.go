// Package cost estimates per-call provider spend, feeding routing
// decisions and the reliability monitor.
package cost

import "github.com/civitas-labs/strategist/internal/model"

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates holds per-provider pricing configuration.
type Rates struct {
	Reasoning map[string]ModelRate `yaml:"reasoning" mapstructure:"reasoning"`
	// WebIntelPerQuery is the flat cost per web-intelligence query.
	WebIntelPerQuery float64 `yaml:"web_intel_per_query" mapstructure:"web_intel_per_query"`
}

// nominal token volumes per depth, used for pre-call estimates.
var depthTokens = map[model.Depth]struct{ in, out int }{
	model.DepthQuick:    {1500, 600},
	model.DepthStandard: {4000, 1500},
	model.DepthDeep:     {12000, 4000},
}

// Calculator computes estimated and actual costs for provider usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Reasoning computes the actual cost of a reasoning call from token
// usage. Returns 0 for unknown models.
func (c *Calculator) Reasoning(mdl string, input, output int64) float64 {
	rate, ok := c.rates.Reasoning[mdl]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// EstimateReasoning predicts the cost of a reasoning call at the given
// depth, before making it.
func (c *Calculator) EstimateReasoning(mdl string, depth model.Depth) float64 {
	tokens, ok := depthTokens[depth]
	if !ok {
		tokens = depthTokens[model.DepthStandard]
	}
	return c.Reasoning(mdl, int64(tokens.in), int64(tokens.out))
}

// WebIntelQuery returns the flat cost per web-intelligence query.
func (c *Calculator) WebIntelQuery() float64 {
	return c.rates.WebIntelPerQuery
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Reasoning: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		WebIntelPerQuery: 0.005,
	}
}
