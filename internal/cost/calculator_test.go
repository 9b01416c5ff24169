package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/civitas-labs/strategist/internal/model"
)

func TestReasoningCost(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultRates())

	// 1M input + 1M output on sonnet = 3.00 + 15.00.
	assert.InDelta(t, 18.0, c.Reasoning("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000), 0.001)

	// Unknown model costs nothing.
	assert.Zero(t, c.Reasoning("mystery-model", 1_000_000, 1_000_000))
}

func TestEstimateReasoning_ScalesWithDepth(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultRates())

	quick := c.EstimateReasoning("claude-haiku-4-5-20251001", model.DepthQuick)
	standard := c.EstimateReasoning("claude-haiku-4-5-20251001", model.DepthStandard)
	deep := c.EstimateReasoning("claude-haiku-4-5-20251001", model.DepthDeep)

	assert.Greater(t, standard, quick)
	assert.Greater(t, deep, standard)

	// Unknown depth falls back to standard volumes.
	assert.InDelta(t, standard, c.EstimateReasoning("claude-haiku-4-5-20251001", model.Depth("odd")), 1e-9)
}

func TestWebIntelQuery(t *testing.T) {
	t.Parallel()
	c := NewCalculator(DefaultRates())
	assert.InDelta(t, 0.005, c.WebIntelQuery(), 1e-9)
}
