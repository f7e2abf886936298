// Package pricing estimates model usage cost from a static per-model price
// table. Estimates are advisory, computed on the fly and never persisted.
package pricing

import (
	"fmt"

	"github.com/damsac/health-assistant/internal/chat"
)

// Price is the cost per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// defaultPrice is applied when a model is missing from the table, so cost
// reporting degrades to a floor estimate instead of silently showing zero.
var defaultPrice = Price{Input: 0.25, Output: 1.25}

// Table maps model IDs to per-MTok prices.
type Table map[string]Price

// DefaultTable returns the built-in Anthropic price table.
func DefaultTable() Table {
	return Table{
		"claude-opus-4-5-20250514":   {Input: 5.0, Output: 25.0},
		"claude-opus-4-20250514":     {Input: 15.0, Output: 75.0},
		"claude-sonnet-4-5-20250514": {Input: 3.0, Output: 15.0},
		"claude-sonnet-4-20250514":   {Input: 3.0, Output: 15.0},
		"claude-3-5-sonnet-20241022": {Input: 3.0, Output: 15.0},
		"claude-haiku-4-5-20250514":  {Input: 1.0, Output: 5.0},
		"claude-3-5-haiku-20241022":  {Input: 0.8, Output: 4.0},
		"claude-3-haiku-20240307":    {Input: 0.25, Output: 1.25},
	}
}

// Merge overlays prices on top of the table, overriding existing entries.
func (t Table) Merge(overrides map[string]Price) Table {
	for model, price := range overrides {
		t[model] = price
	}
	return t
}

// Calculate estimates the cost of usage for a model. Unknown models fall
// back to the default tier.
func (t Table) Calculate(modelID string, usage chat.TokenUsage) chat.CostEstimate {
	price, ok := t[modelID]
	if !ok {
		price = defaultPrice
	}

	inputCost := float64(usage.InputTokens) / 1_000_000 * price.Input
	outputCost := float64(usage.OutputTokens) / 1_000_000 * price.Output
	return chat.CostEstimate{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  inputCost + outputCost,
		TokenUsage: usage,
	}
}

// FormatCost renders a dollar amount, with extra precision for amounts
// under a cent.
func FormatCost(cost float64) string {
	if cost < 0.01 {
		return fmt.Sprintf("$%.6f", cost)
	}
	return fmt.Sprintf("$%.4f", cost)
}
