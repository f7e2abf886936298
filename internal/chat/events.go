package chat

import "encoding/json"

// StreamEventType identifies a wire-level stream event.
type StreamEventType string

const (
	EventStart          StreamEventType = "start"
	EventTextDelta      StreamEventType = "text-delta"
	EventReasoningDelta StreamEventType = "reasoning-delta"
	EventToolInputStart StreamEventType = "tool-input-start"
	EventToolInput      StreamEventType = "tool-input-available"
	EventToolOutput     StreamEventType = "tool-output-available"
	EventToolError      StreamEventType = "tool-output-error"
	EventCostEstimate   StreamEventType = "data-cost-estimate"
	EventFinish         StreamEventType = "finish"
	EventError          StreamEventType = "error"
)

// FinishReason explains why a turn's stream ended.
type FinishReason string

const (
	FinishStop FinishReason = "stop"
	// FinishMaxRounds marks a turn truncated by the tool-call round cap.
	FinishMaxRounds FinishReason = "max-rounds"
	// FinishAwaitingApproval marks a turn paused at the approval gate; the
	// client continues it with a follow-up request carrying approvals.
	FinishAwaitingApproval FinishReason = "awaiting-approval"
)

// StreamEvent is one chunk of the turn response stream. Fields are populated
// according to Type; consumers that do not recognize a type should skip it.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// start
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`

	// text-delta / reasoning-delta
	Delta string `json:"delta,omitempty"`

	// tool events. Approval is encoded as the awaiting-approval invocation
	// state on tool-input-available, not as a separate event type.
	ToolCallID string              `json:"toolCallId,omitempty"`
	ToolName   string              `json:"toolName,omitempty"`
	Input      json.RawMessage     `json:"input,omitempty"`
	State      ToolInvocationState `json:"state,omitempty"`
	Output     json.RawMessage     `json:"output,omitempty"`

	// data-cost-estimate
	ModelID string        `json:"modelId,omitempty"`
	Cost    *CostEstimate `json:"cost,omitempty"`

	// finish / error
	FinishReason FinishReason `json:"finishReason,omitempty"`
	ErrorText    string       `json:"errorText,omitempty"`
}

// TokenUsage is the raw token telemetry for one turn.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Add accumulates usage from another reading.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// CostEstimate is a derived price estimate for token usage. It is never
// persisted as source of truth; it is recomputed from usage and the price
// table whenever needed.
type CostEstimate struct {
	InputCost  float64    `json:"inputCost"`
	OutputCost float64    `json:"outputCost"`
	TotalCost  float64    `json:"totalCost"`
	TokenUsage TokenUsage `json:"tokenUsage"`
}

// Add accumulates another estimate into this one.
func (c *CostEstimate) Add(other CostEstimate) {
	c.InputCost += other.InputCost
	c.OutputCost += other.OutputCost
	c.TotalCost += other.TotalCost
	c.TokenUsage.Add(other.TokenUsage)
}
