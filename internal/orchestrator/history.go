package orchestrator

import (
	"github.com/damsac/health-assistant/internal/chat"
	"github.com/damsac/health-assistant/internal/llm"
)

const deniedResultText = "Tool execution was denied by the user."

// toModelMessages converts a stored transcript into model messages.
//
// A tool call that paused for approval appears twice in the transcript: once
// on the message that hit the gate (awaiting-approval) and once on the
// continuation message that resolved it. The model must see each call
// exactly once, in its latest state, so invocations are deduplicated by
// tool call ID with the most recent occurrence winning. Unresolved
// invocations are dropped entirely.
func toModelMessages(history []chat.Message) []llm.Message {
	// Last message index holding each tool call ID.
	latest := make(map[string]int)
	for i, msg := range history {
		for _, part := range msg.Parts {
			if part.Type == chat.PartToolInvocation && part.Tool != nil {
				latest[part.Tool.ToolCallID] = i
			}
		}
	}

	var out []llm.Message
	for i, msg := range history {
		switch msg.Role {
		case chat.RoleUser:
			if text := msg.Text(); text != "" {
				out = append(out, llm.UserText(text))
			}
		case chat.RoleAssistant:
			var parts []llm.Part
			var results []llm.Part
			for _, part := range msg.Parts {
				switch part.Type {
				case chat.PartText:
					if part.Text != "" {
						parts = append(parts, llm.Part{Type: llm.PartText, Text: part.Text})
					}
				case chat.PartToolInvocation:
					inv := part.Tool
					if inv == nil || latest[inv.ToolCallID] != i {
						continue
					}
					call, result, ok := modelToolParts(inv)
					if !ok {
						continue
					}
					parts = append(parts, call)
					results = append(results, result)
				}
			}
			if len(parts) > 0 {
				out = append(out, llm.Message{Role: llm.RoleAssistant, Parts: parts})
			}
			if len(results) > 0 {
				out = append(out, llm.Message{Role: llm.RoleTool, Parts: results})
			}
		}
	}
	return out
}

// modelToolParts renders a resolved invocation as a tool call part plus its
// result part. Unresolved states report ok=false.
func modelToolParts(inv *chat.ToolInvocation) (call, result llm.Part, ok bool) {
	var content string
	var isError bool
	switch inv.State {
	case chat.StateOutputAvailable:
		content = string(inv.Result)
	case chat.StateOutputError:
		content = inv.ErrorText
		isError = true
	case chat.StateDenied:
		content = deniedResultText
	default:
		return llm.Part{}, llm.Part{}, false
	}

	call = llm.Part{
		Type: llm.PartToolCall,
		ToolCall: &llm.ToolCall{
			ID:        inv.ToolCallID,
			Name:      inv.ToolName,
			Arguments: inv.Input,
		},
	}
	result = llm.Part{
		Type: llm.PartToolResult,
		ToolResult: &llm.ToolResult{
			ID:      inv.ToolCallID,
			Name:    inv.ToolName,
			Content: content,
			IsError: isError,
		},
	}
	return call, result, true
}
