package pricing

import (
	"math"
	"testing"

	"github.com/damsac/health-assistant/internal/chat"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestCalculateKnownModel(t *testing.T) {
	table := DefaultTable()
	usage := chat.TokenUsage{InputTokens: 1000, OutputTokens: 500, TotalTokens: 1500}

	cost := table.Calculate("claude-3-5-sonnet-20241022", usage)
	if !almostEqual(cost.InputCost, 0.003) {
		t.Errorf("input cost = %v, want 0.003", cost.InputCost)
	}
	if !almostEqual(cost.OutputCost, 0.0075) {
		t.Errorf("output cost = %v, want 0.0075", cost.OutputCost)
	}
	if !almostEqual(cost.TotalCost, 0.0105) {
		t.Errorf("total cost = %v, want 0.0105", cost.TotalCost)
	}
	if cost.TokenUsage != usage {
		t.Errorf("usage not carried through: %+v", cost.TokenUsage)
	}
}

func TestCalculateUnknownModelFallsBack(t *testing.T) {
	table := DefaultTable()
	usage := chat.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}

	cost := table.Calculate("some-future-model", usage)
	if !almostEqual(cost.InputCost, 0.25) || !almostEqual(cost.OutputCost, 1.25) {
		t.Errorf("fallback cost = %v/%v, want 0.25/1.25", cost.InputCost, cost.OutputCost)
	}
}

func TestCalculateZeroUsage(t *testing.T) {
	cost := DefaultTable().Calculate("claude-3-haiku-20240307", chat.TokenUsage{})
	if cost.TotalCost != 0 {
		t.Errorf("zero usage cost = %v", cost.TotalCost)
	}
}

func TestMergeOverrides(t *testing.T) {
	table := DefaultTable().Merge(map[string]Price{
		"claude-3-haiku-20240307": {Input: 0.5, Output: 2.5},
		"custom-model":            {Input: 10, Output: 20},
	})

	cost := table.Calculate("claude-3-haiku-20240307", chat.TokenUsage{InputTokens: 1_000_000})
	if !almostEqual(cost.InputCost, 0.5) {
		t.Errorf("override not applied: %v", cost.InputCost)
	}
	custom := table.Calculate("custom-model", chat.TokenUsage{OutputTokens: 1_000_000})
	if !almostEqual(custom.OutputCost, 20) {
		t.Errorf("new model not added: %v", custom.OutputCost)
	}
}

func TestCostEstimateAdd(t *testing.T) {
	var total chat.CostEstimate
	table := DefaultTable()
	total.Add(table.Calculate("claude-3-5-haiku-20241022", chat.TokenUsage{InputTokens: 1000, OutputTokens: 200, TotalTokens: 1200}))
	total.Add(table.Calculate("claude-3-5-haiku-20241022", chat.TokenUsage{InputTokens: 500, OutputTokens: 100, TotalTokens: 600}))

	if total.TokenUsage.InputTokens != 1500 || total.TokenUsage.OutputTokens != 300 {
		t.Errorf("usage sum = %+v", total.TokenUsage)
	}
	want := table.Calculate("claude-3-5-haiku-20241022", chat.TokenUsage{InputTokens: 1500, OutputTokens: 300})
	if !almostEqual(total.TotalCost, want.TotalCost) {
		t.Errorf("total = %v, want %v", total.TotalCost, want.TotalCost)
	}
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		cost float64
		want string
	}{
		{0.003, "$0.003000"},
		{0.0000125, "$0.000013"},
		{0.05, "$0.0500"},
		{1.2345, "$1.2345"},
	}
	for _, tt := range tests {
		if got := FormatCost(tt.cost); got != tt.want {
			t.Errorf("FormatCost(%v) = %q, want %q", tt.cost, got, tt.want)
		}
	}
}
