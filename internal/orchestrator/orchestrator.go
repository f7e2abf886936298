// Package orchestrator runs conversation turns: it streams model output,
// executes tools in a bounded loop, pauses at the approval gate, and
// persists the finished assistant message.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/damsac/health-assistant/internal/chat"
	"github.com/damsac/health-assistant/internal/health"
	"github.com/damsac/health-assistant/internal/llm"
	"github.com/damsac/health-assistant/internal/pricing"
	"github.com/damsac/health-assistant/internal/prompt"
	"github.com/damsac/health-assistant/internal/store"
	"github.com/damsac/health-assistant/internal/tools"
)

// DefaultMaxToolRounds bounds the tool-call loop within one logical turn.
const DefaultMaxToolRounds = 5

// ErrConversationNotFound is returned when the requested conversation does
// not exist or is owned by someone else. The two cases are deliberately
// indistinguishable.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrEmptyMessage is returned for any non-continuation turn with no message
// text, before the user message is persisted or the model is invoked.
var ErrEmptyMessage = errors.New("message text is required")

// Config tunes turn execution.
type Config struct {
	Model           string
	MaxToolRounds   int
	MaxOutputTokens int
}

// Orchestrator coordinates one conversation turn end to end.
type Orchestrator struct {
	store    store.Store
	health   *health.Store
	provider llm.Provider
	prices   pricing.Table
	cfg      Config
	logger   *log.Logger
}

func New(st store.Store, hs *health.Store, provider llm.Provider, prices pricing.Table, cfg Config, logger *log.Logger) *Orchestrator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		store:    st,
		health:   hs,
		provider: provider,
		prices:   prices,
		cfg:      cfg,
		logger:   logger,
	}
}

// TurnRequest describes one physical request against a conversation.
// A request with Approvals set is a continuation of a turn that paused at
// the approval gate; Message is ignored on continuations so the inbound
// user message is never persisted twice.
type TurnRequest struct {
	OwnerID        string
	ConversationID string
	Message        string
	Approvals      []chat.ApprovalResponse
}

// EmitFunc delivers one stream event to the client. A non-nil return aborts
// the turn.
type EmitFunc func(chat.StreamEvent) error

// HandleTurn executes a turn and streams events through emit.
//
// The assistant message is persisted exactly once, after the turn reaches a
// successful finish (including the approval-gate pause, which is a finish
// of the physical request). A mid-stream failure persists nothing, so a
// retry replays the turn from the last durable state.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest, emit EmitFunc) error {
	continuation := len(req.Approvals) > 0
	if !continuation && strings.TrimSpace(req.Message) == "" {
		return ErrEmptyMessage
	}

	conv, err := o.resolveConversation(ctx, req, continuation)
	if err != nil {
		return err
	}

	// The message ID is announced up front so clients can key streamed
	// parts and per-message costs before persistence happens.
	assistantID := uuid.NewString()
	if err := emit(chat.StreamEvent{
		Type:           chat.EventStart,
		ConversationID: conv.ID,
		MessageID:      assistantID,
	}); err != nil {
		return err
	}

	if !continuation {
		userMsg := chat.UserText(strings.TrimSpace(req.Message))
		userMsg.ConversationID = conv.ID
		if _, err := o.store.AppendMessage(ctx, &userMsg); err != nil {
			return o.fail(emit, fmt.Errorf("persist user message: %w", err))
		}
	} else if err := o.store.Touch(ctx, conv.ID); err != nil {
		return o.fail(emit, fmt.Errorf("touch conversation: %w", err))
	}

	full, err := o.store.GetWithMessages(ctx, conv.ID, req.OwnerID)
	if err != nil {
		return o.fail(emit, fmt.Errorf("load transcript: %w", err))
	}
	if full == nil {
		return ErrConversationNotFound
	}

	registry := tools.NewRegistry(tools.ExecutionContext{
		ActingUserID:   req.OwnerID,
		ConversationID: conv.ID,
	}, o.health)

	turn := &turnState{
		emit:     emit,
		registry: registry,
	}

	if continuation {
		if err := turn.resolveApprovals(ctx, full.Messages, req.Approvals); err != nil {
			return o.fail(emit, err)
		}
	}

	profile, err := o.health.GetProfile(ctx, req.OwnerID)
	if err != nil {
		return o.fail(emit, fmt.Errorf("load profile: %w", err))
	}

	messages := full.Messages
	if len(turn.parts) > 0 {
		// Resolved continuation invocations supersede their
		// awaiting-approval twins during history conversion.
		messages = append(messages, chat.Message{Role: chat.RoleAssistant, Parts: turn.parts})
	}

	modelReq := llm.Request{
		Model:           o.cfg.Model,
		System:          prompt.System(profile),
		Messages:        toModelMessages(messages),
		Tools:           registry.Specs(),
		MaxOutputTokens: o.cfg.MaxOutputTokens,
	}

	finish, err := o.runToolLoop(ctx, modelReq, turn)
	if err != nil {
		return o.fail(emit, err)
	}

	assistant := &chat.Message{
		ID:             assistantID,
		ConversationID: conv.ID,
		Role:           chat.RoleAssistant,
		Parts:          turn.parts,
	}
	if _, err := o.store.AppendMessage(ctx, assistant); err != nil {
		return o.fail(emit, fmt.Errorf("persist assistant message: %w", err))
	}

	if turn.haveUsage {
		cost := o.prices.Calculate(o.cfg.Model, turn.usage)
		if err := emit(chat.StreamEvent{
			Type:    chat.EventCostEstimate,
			ModelID: o.cfg.Model,
			Cost:    &cost,
		}); err != nil {
			return err
		}
	}

	return emit(chat.StreamEvent{Type: chat.EventFinish, FinishReason: finish})
}

// resolveConversation finds the target conversation or creates one for a
// fresh turn. Lookup failures happen before any events are emitted so the
// transport can still answer with a clean status code.
func (o *Orchestrator) resolveConversation(ctx context.Context, req TurnRequest, continuation bool) (*store.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := o.store.GetOwned(ctx, req.ConversationID, req.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("look up conversation: %w", err)
		}
		if conv == nil {
			return nil, ErrConversationNotFound
		}
		return conv, nil
	}
	if continuation {
		return nil, ErrConversationNotFound
	}
	conv, err := o.store.CreateWithAutoTitle(ctx, req.OwnerID, strings.TrimSpace(req.Message))
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// fail reports err on the stream, then returns it. Nothing is persisted
// for a failed turn.
func (o *Orchestrator) fail(emit EmitFunc, err error) error {
	o.logger.Printf("turn failed: %v", err)
	emitErr := emit(chat.StreamEvent{Type: chat.EventError, ErrorText: err.Error()})
	if emitErr != nil {
		return emitErr
	}
	return err
}

// turnState accumulates the assistant message parts and usage across tool
// rounds within one physical request.
type turnState struct {
	emit     EmitFunc
	registry *tools.Registry

	parts     []chat.Part
	usage     chat.TokenUsage
	haveUsage bool
}

func (t *turnState) addUsage(u llm.Usage) {
	t.usage.Add(chat.TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
	})
	t.haveUsage = true
}

// resolveApprovals consumes the user's approval responses against the last
// assistant message's pending invocations. Approved invocations execute
// now; denied ones are terminal without executing. Responses that do not
// match a pending invocation (late, duplicate, or unknown) are ignored.
func (t *turnState) resolveApprovals(ctx context.Context, history []chat.Message, responses []chat.ApprovalResponse) error {
	pending := make(map[string]*chat.ToolInvocation)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != chat.RoleAssistant {
			continue
		}
		for _, inv := range history[i].PendingApprovals() {
			pending[inv.ToolCallID] = inv
		}
		break
	}

	seen := make(map[string]bool)
	for _, resp := range responses {
		if seen[resp.ToolCallID] {
			continue
		}
		seen[resp.ToolCallID] = true

		orig, ok := pending[resp.ToolCallID]
		if !ok {
			continue
		}

		inv := &chat.ToolInvocation{
			ToolCallID: orig.ToolCallID,
			ToolName:   orig.ToolName,
			Input:      orig.Input,
			Approval:   &chat.Approval{Approved: resp.Approved},
		}

		if !resp.Approved {
			inv.State = chat.StateDenied
			if err := t.emit(chat.StreamEvent{
				Type:       chat.EventToolError,
				ToolCallID: inv.ToolCallID,
				ToolName:   inv.ToolName,
				State:      chat.StateDenied,
				ErrorText:  deniedResultText,
			}); err != nil {
				return err
			}
			t.parts = append(t.parts, chat.ToolPart(inv))
			continue
		}

		inv.State = chat.StateApproved
		if err := t.execute(ctx, inv); err != nil {
			return err
		}
		t.parts = append(t.parts, chat.ToolPart(inv))
	}
	return nil
}

// execute runs an invocation that is cleared to execute and records its
// terminal state.
func (t *turnState) execute(ctx context.Context, inv *chat.ToolInvocation) error {
	tool, ok := t.registry.Get(inv.ToolName)
	if !ok {
		inv.State = chat.StateOutputError
		inv.ErrorText = fmt.Sprintf("unknown tool: %s", inv.ToolName)
		return t.emit(chat.StreamEvent{
			Type:       chat.EventToolError,
			ToolCallID: inv.ToolCallID,
			ToolName:   inv.ToolName,
			State:      inv.State,
			ErrorText:  inv.ErrorText,
		})
	}

	inv.State = chat.StateExecuting
	output, err := tool.Execute(ctx, inv.Input)
	if err != nil {
		inv.State = chat.StateOutputError
		inv.ErrorText = err.Error()
		return t.emit(chat.StreamEvent{
			Type:       chat.EventToolError,
			ToolCallID: inv.ToolCallID,
			ToolName:   inv.ToolName,
			State:      inv.State,
			ErrorText:  inv.ErrorText,
		})
	}

	result, err := json.Marshal(output)
	if err != nil {
		inv.State = chat.StateOutputError
		inv.ErrorText = fmt.Sprintf("serialize tool result: %v", err)
		return t.emit(chat.StreamEvent{
			Type:       chat.EventToolError,
			ToolCallID: inv.ToolCallID,
			ToolName:   inv.ToolName,
			State:      inv.State,
			ErrorText:  inv.ErrorText,
		})
	}

	inv.State = chat.StateOutputAvailable
	inv.Result = result
	return t.emit(chat.StreamEvent{
		Type:       chat.EventToolOutput,
		ToolCallID: inv.ToolCallID,
		ToolName:   inv.ToolName,
		State:      inv.State,
		Output:     result,
	})
}

// runToolLoop drives model rounds until the model stops calling tools, an
// invocation hits the approval gate, or the round cap is reached.
func (o *Orchestrator) runToolLoop(ctx context.Context, req llm.Request, turn *turnState) (chat.FinishReason, error) {
	for round := 0; round < o.cfg.MaxToolRounds; round++ {
		result, err := o.runModelRound(ctx, req, turn)
		if err != nil {
			return "", err
		}

		if result.reasoning != "" {
			turn.parts = append(turn.parts, chat.ReasoningPart(result.reasoning, false))
		}
		if result.text != "" {
			turn.parts = append(turn.parts, chat.TextPart(result.text))
		}
		if len(result.calls) == 0 {
			return chat.FinishStop, nil
		}

		gated := false
		var assistantParts []llm.Part
		var resultParts []llm.Part
		if result.text != "" {
			assistantParts = append(assistantParts, llm.Part{Type: llm.PartText, Text: result.text})
		}

		for _, call := range result.calls {
			inv := &chat.ToolInvocation{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Input:      call.Arguments,
				State:      chat.StateInputAvailable,
			}

			tool, known := turn.registry.Get(call.Name)
			if known && tool.NeedsApproval(call.Arguments) {
				inv.State = chat.StateAwaitingApproval
				if err := turn.emit(chat.StreamEvent{
					Type:       chat.EventToolInput,
					ToolCallID: inv.ToolCallID,
					ToolName:   inv.ToolName,
					Input:      inv.Input,
					State:      inv.State,
				}); err != nil {
					return "", err
				}
				turn.parts = append(turn.parts, chat.ToolPart(inv))
				gated = true
				continue
			}

			if err := turn.emit(chat.StreamEvent{
				Type:       chat.EventToolInput,
				ToolCallID: inv.ToolCallID,
				ToolName:   inv.ToolName,
				Input:      inv.Input,
				State:      chat.StateExecuting,
			}); err != nil {
				return "", err
			}
			if err := turn.execute(ctx, inv); err != nil {
				return "", err
			}
			turn.parts = append(turn.parts, chat.ToolPart(inv))

			callPart, resultPart, ok := modelToolParts(inv)
			if ok {
				assistantParts = append(assistantParts, callPart)
				resultParts = append(resultParts, resultPart)
			}
		}

		if gated {
			// The gate ends the physical request; the turn resumes on a
			// continuation request carrying the approval responses.
			return chat.FinishAwaitingApproval, nil
		}

		req.Messages = append(req.Messages,
			llm.Message{Role: llm.RoleAssistant, Parts: assistantParts},
			llm.Message{Role: llm.RoleTool, Parts: resultParts},
		)
	}
	return chat.FinishMaxRounds, nil
}

// roundResult is the collected output of one model call.
type roundResult struct {
	text      string
	reasoning string
	calls     []llm.ToolCall
}

// runModelRound streams one model call, forwarding deltas and collecting
// the round's text, reasoning and tool calls.
func (o *Orchestrator) runModelRound(ctx context.Context, req llm.Request, turn *turnState) (*roundResult, error) {
	stream, err := o.provider.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("start model stream: %w", err)
	}
	defer stream.Close()

	result := &roundResult{}
	var text, reasoning strings.Builder
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("model stream: %w", err)
		}

		switch event.Type {
		case llm.EventTextDelta:
			text.WriteString(event.Text)
			if err := turn.emit(chat.StreamEvent{Type: chat.EventTextDelta, Delta: event.Text}); err != nil {
				return nil, err
			}
		case llm.EventReasoningDelta:
			reasoning.WriteString(event.Text)
			if err := turn.emit(chat.StreamEvent{Type: chat.EventReasoningDelta, Delta: event.Text}); err != nil {
				return nil, err
			}
		case llm.EventToolCallStart:
			if err := turn.emit(chat.StreamEvent{
				Type:       chat.EventToolInputStart,
				ToolCallID: event.Tool.ID,
				ToolName:   event.Tool.Name,
				State:      chat.StateInputStreaming,
			}); err != nil {
				return nil, err
			}
		case llm.EventToolCall:
			result.calls = append(result.calls, *event.Tool)
		case llm.EventUsage:
			if event.Use != nil {
				turn.addUsage(*event.Use)
			}
		}
	}

	result.text = text.String()
	result.reasoning = reasoning.String()
	return result, nil
}
