// Package chat defines the transcript vocabulary shared by the server
// orchestrator and the client session controller: messages, typed parts,
// the tool-invocation state machine, and approval responses.
package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies a message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartToolInvocation PartType = "tool-invocation"
)

// ToolInvocationState is the lifecycle state of a tool invocation.
//
// Invocations flow input-streaming -> input-available, then either directly
// to executing, or through awaiting-approval -> approved/denied when the
// tool requires consent. A denied invocation never executes.
// output-available, output-error and denied are terminal.
type ToolInvocationState string

const (
	StateInputStreaming   ToolInvocationState = "input-streaming"
	StateInputAvailable   ToolInvocationState = "input-available"
	StateAwaitingApproval ToolInvocationState = "awaiting-approval"
	StateApproved         ToolInvocationState = "approved"
	StateDenied           ToolInvocationState = "denied"
	StateExecuting        ToolInvocationState = "executing"
	StateOutputAvailable  ToolInvocationState = "output-available"
	StateOutputError      ToolInvocationState = "output-error"
)

// validTransitions encodes the allowed state machine edges.
var validTransitions = map[ToolInvocationState][]ToolInvocationState{
	StateInputStreaming:   {StateInputAvailable},
	StateInputAvailable:   {StateAwaitingApproval, StateExecuting, StateOutputError},
	StateAwaitingApproval: {StateApproved, StateDenied},
	StateApproved:         {StateExecuting},
	StateExecuting:        {StateOutputAvailable, StateOutputError},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to ToolInvocationState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s ToolInvocationState) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Resolved reports whether the invocation no longer waits on user consent.
func (s ToolInvocationState) Resolved() bool {
	return s != StateInputStreaming && s != StateAwaitingApproval
}

// Approval records the user's consent decision for one tool invocation.
type Approval struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// ToolInvocation is a model-requested call to a named tool, tracked through
// its full lifecycle including the approval gate.
type ToolInvocation struct {
	ToolCallID string              `json:"toolCallId"`
	ToolName   string              `json:"toolName"`
	Input      json.RawMessage     `json:"input,omitempty"`
	State      ToolInvocationState `json:"state"`
	Result     json.RawMessage     `json:"result,omitempty"`
	ErrorText  string              `json:"errorText,omitempty"`
	Approval   *Approval           `json:"approval,omitempty"`
}

// Part is one typed fragment of a message. Exactly one payload field is set
// depending on Type.
type Part struct {
	Type      PartType        `json:"type"`
	Text      string          `json:"text,omitempty"`
	Streaming bool            `json:"streaming,omitempty"` // reasoning parts only
	Tool      *ToolInvocation `json:"tool,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ReasoningPart builds a reasoning part.
func ReasoningPart(text string, streaming bool) Part {
	return Part{Type: PartReasoning, Text: text, Streaming: streaming}
}

// ToolPart builds a tool-invocation part.
func ToolPart(inv *ToolInvocation) Part {
	return Part{Type: PartToolInvocation, Tool: inv}
}

// Message is one transcript entry. Messages are immutable once persisted;
// the orchestrator appends new messages rather than editing stored ones.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Role           Role      `json:"role"`
	Parts          []Part    `json:"parts"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
}

// UserText builds a user message with a single text part.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// Text concatenates the message's text parts in order. Reasoning and tool
// parts are excluded.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// PendingApprovals returns the tool invocations still awaiting consent.
func (m Message) PendingApprovals() []*ToolInvocation {
	var pending []*ToolInvocation
	for i := range m.Parts {
		if p := &m.Parts[i]; p.Type == PartToolInvocation && p.Tool.State == StateAwaitingApproval {
			pending = append(pending, p.Tool)
		}
	}
	return pending
}

// ApprovalResponse is the user's answer to one approval request. Responses
// are consumed at most once per toolCallId; late or duplicate responses for
// an already-resolved invocation are ignored.
type ApprovalResponse struct {
	ToolCallID string `json:"toolCallId"`
	Approved   bool   `json:"approved"`
}

// StringifyParts serializes parts for storage.
func StringifyParts(parts []Part) (string, error) {
	data, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseParts deserializes parts from storage. Empty input yields nil.
func ParseParts(data string) ([]Part, error) {
	if data == "" {
		return nil, nil
	}
	var parts []Part
	if err := json.Unmarshal([]byte(data), &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

// maxTitleLen bounds auto-derived conversation titles.
const maxTitleLen = 50

// DeriveTitle builds a conversation title from the first user message.
// Whitespace is collapsed and long text is truncated on a rune boundary
// with an ellipsis marker.
func DeriveTitle(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return "New conversation"
	}
	runes := []rune(cleaned)
	if len(runes) <= maxTitleLen {
		return cleaned
	}
	return string(runes[:maxTitleLen-3]) + "..."
}
