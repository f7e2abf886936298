package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/damsac/health-assistant/internal/chat"
)

// Status is the controller's submission state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// ErrTurnInProgress is returned when a send overlaps an active turn.
var ErrTurnInProgress = errors.New("a turn is already in progress")

// Controller is the client session: it owns the local transcript mirror,
// the active conversation id, pending approvals, and cost attribution.
// All methods are safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	transport Transport
	costs     *CostTracker

	status         Status
	lastErr        error
	conversationID string
	createdID      string
	notified       bool
	onCreated      func(id string)
	onEvent        func(chat.StreamEvent)

	messages  []chat.Message
	assistant *chat.Message // message currently streaming, last of messages

	pending map[string]bool
	answers []chat.ApprovalResponse
}

func NewController(transport Transport) *Controller {
	return &Controller{
		transport: transport,
		costs:     NewCostTracker(),
		status:    StatusIdle,
		pending:   make(map[string]bool),
	}
}

// OnConversationCreated registers a callback fired exactly once when the
// server creates a conversation for this session.
func (c *Controller) OnConversationCreated(fn func(id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCreated = fn
}

// OnEvent registers an observer called for every stream event after it has
// been folded into local state. Observers must not call back into the
// controller.
func (c *Controller) OnEvent(fn func(chat.StreamEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Messages returns a snapshot of the local transcript.
func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Costs returns the session cost tracker.
func (c *Controller) Costs() *CostTracker {
	return c.costs
}

// PendingApprovals returns the tool call ids still waiting for an answer.
func (c *Controller) PendingApprovals() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// Send submits a new user turn and blocks until the stream finishes or
// pauses at an approval gate.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("message text is required")
	}

	c.mu.Lock()
	if c.status == StatusSubmitted || c.status == StatusStreaming {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	c.status = StatusSubmitted
	c.lastErr = nil
	userMsg := chat.UserText(text)
	c.messages = append(c.messages, userMsg)
	req := SendRequest{ConversationID: c.conversationID, Message: &userMsg}
	c.mu.Unlock()

	return c.runTurn(ctx, req)
}

// Approve answers a pending approval positively. When it is the last
// unanswered approval, the turn continuation is sent automatically.
func (c *Controller) Approve(ctx context.Context, toolCallID string) error {
	return c.answer(ctx, toolCallID, true)
}

// Deny answers a pending approval negatively. The denied tool never
// executes; like Approve, the last answer triggers the continuation.
func (c *Controller) Deny(ctx context.Context, toolCallID string) error {
	return c.answer(ctx, toolCallID, false)
}

func (c *Controller) answer(ctx context.Context, toolCallID string, approved bool) error {
	c.mu.Lock()
	if c.status == StatusSubmitted || c.status == StatusStreaming {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	if !c.pending[toolCallID] {
		c.mu.Unlock()
		return fmt.Errorf("no pending approval for tool call %s", toolCallID)
	}
	delete(c.pending, toolCallID)
	c.answers = append(c.answers, chat.ApprovalResponse{ToolCallID: toolCallID, Approved: approved})

	if len(c.pending) > 0 {
		c.mu.Unlock()
		return nil
	}

	// All answered: send exactly one continuation carrying every response.
	answers := c.answers
	c.answers = nil
	c.status = StatusSubmitted
	c.lastErr = nil
	req := SendRequest{ConversationID: c.conversationID, Approvals: answers}
	c.mu.Unlock()

	return c.runTurn(ctx, req)
}

// SwitchTo replaces the active conversation. Local state is reset and the
// transcript reloaded, except when switching to the conversation this
// session itself created, whose transcript is already mirrored locally.
func (c *Controller) SwitchTo(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.status == StatusSubmitted || c.status == StatusStreaming {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	if id == c.conversationID || (id != "" && id == c.createdID && c.conversationID == c.createdID) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conv, err := c.transport.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s not found", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = id
	c.messages = conv.Messages
	c.assistant = nil
	c.pending = make(map[string]bool)
	c.answers = nil
	c.status = StatusIdle
	c.lastErr = nil
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role != chat.RoleAssistant {
			continue
		}
		for _, inv := range c.messages[i].PendingApprovals() {
			c.pending[inv.ToolCallID] = true
		}
		break
	}
	return nil
}

// NewConversation clears the session so the next send starts a fresh
// conversation on the server.
func (c *Controller) NewConversation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusSubmitted || c.status == StatusStreaming {
		return ErrTurnInProgress
	}
	c.conversationID = ""
	c.createdID = ""
	c.notified = false
	c.messages = nil
	c.assistant = nil
	c.pending = make(map[string]bool)
	c.answers = nil
	c.status = StatusIdle
	c.lastErr = nil
	return nil
}

// runTurn drives one physical request: stream events, mirror them into the
// local transcript, and settle the final status.
func (c *Controller) runTurn(ctx context.Context, req SendRequest) error {
	stream, err := c.transport.StreamTurn(ctx, req)
	if err != nil {
		c.setError(err)
		return err
	}
	defer stream.Close()

	var currentMessageID string
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.setError(err)
			return err
		}
		if err := c.apply(event, &currentMessageID); err != nil {
			c.setError(err)
			return err
		}
		c.mu.Lock()
		observer := c.onEvent
		c.mu.Unlock()
		if observer != nil {
			observer(event)
		}
	}

	c.mu.Lock()
	c.assistant = nil
	if c.status != StatusError {
		c.status = StatusIdle
	}
	needsID := c.conversationID == ""
	turnErr := c.lastErr
	c.mu.Unlock()

	if needsID {
		// The start event should have carried the id; fall back to the
		// conversation list for servers that did not send one.
		c.resolveCreatedID(ctx, stream)
	}
	return turnErr
}

// apply folds one stream event into local state.
func (c *Controller) apply(event chat.StreamEvent, currentMessageID *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case chat.EventStart:
		c.status = StatusStreaming
		*currentMessageID = event.MessageID
		if event.ConversationID != "" && c.conversationID == "" {
			c.adoptCreatedLocked(event.ConversationID)
		}

	case chat.EventTextDelta:
		msg := c.streamingMessageLocked(*currentMessageID)
		appendTextDelta(msg, event.Delta, chat.PartText)

	case chat.EventReasoningDelta:
		msg := c.streamingMessageLocked(*currentMessageID)
		appendTextDelta(msg, event.Delta, chat.PartReasoning)

	case chat.EventToolInputStart:
		msg := c.streamingMessageLocked(*currentMessageID)
		msg.Parts = append(msg.Parts, chat.ToolPart(&chat.ToolInvocation{
			ToolCallID: event.ToolCallID,
			ToolName:   event.ToolName,
			State:      chat.StateInputStreaming,
		}))

	case chat.EventToolInput:
		msg := c.streamingMessageLocked(*currentMessageID)
		inv := upsertInvocation(msg, event.ToolCallID, event.ToolName)
		inv.Input = event.Input
		inv.State = event.State
		if event.State == chat.StateAwaitingApproval {
			c.pending[event.ToolCallID] = true
		}

	case chat.EventToolOutput:
		msg := c.streamingMessageLocked(*currentMessageID)
		inv := upsertInvocation(msg, event.ToolCallID, event.ToolName)
		inv.State = chat.StateOutputAvailable
		inv.Result = event.Output

	case chat.EventToolError:
		msg := c.streamingMessageLocked(*currentMessageID)
		inv := upsertInvocation(msg, event.ToolCallID, event.ToolName)
		inv.State = event.State
		if inv.State == "" {
			inv.State = chat.StateOutputError
		}
		inv.ErrorText = event.ErrorText

	case chat.EventCostEstimate:
		c.costs.Record(*currentMessageID, event.Cost)

	case chat.EventFinish:
		// Status settles after the stream drains; nothing to do here.

	case chat.EventError:
		c.status = StatusError
		c.lastErr = errors.New(event.ErrorText)
	}
	return nil
}

// streamingMessageLocked returns the assistant message under construction,
// creating it on the first content event.
func (c *Controller) streamingMessageLocked(messageID string) *chat.Message {
	if c.assistant == nil {
		c.messages = append(c.messages, chat.Message{
			ID:   messageID,
			Role: chat.RoleAssistant,
		})
		c.assistant = &c.messages[len(c.messages)-1]
	}
	return c.assistant
}

// adoptCreatedLocked records a server-created conversation id and fires the
// creation callback once.
func (c *Controller) adoptCreatedLocked(id string) {
	c.conversationID = id
	c.createdID = id
	if c.onCreated != nil && !c.notified {
		c.notified = true
		c.onCreated(id)
	}
}

// resolveCreatedID recovers the new conversation's id from the response
// header or the conversation list when no start event carried it. The list
// request runs without the lock held; the id is adopted only if it is still
// unknown once the call returns.
func (c *Controller) resolveCreatedID(ctx context.Context, stream Stream) {
	if s, ok := stream.(*sseStream); ok && s.ConversationID() != "" {
		c.adoptCreated(s.ConversationID())
		return
	}
	conversations, err := c.transport.ListConversations(ctx)
	if err != nil || len(conversations) == 0 {
		return
	}
	// Most recently updated first.
	c.adoptCreated(conversations[0].ID)
}

func (c *Controller) adoptCreated(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conversationID == "" {
		c.adoptCreatedLocked(id)
	}
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusError
	c.lastErr = err
	c.assistant = nil
}

// appendTextDelta extends the trailing part of the given type, or starts a
// new part when the tail is of a different kind.
func appendTextDelta(msg *chat.Message, delta string, partType chat.PartType) {
	if len(msg.Parts) > 0 {
		last := &msg.Parts[len(msg.Parts)-1]
		if last.Type == partType {
			last.Text += delta
			return
		}
	}
	part := chat.Part{Type: partType, Text: delta}
	if partType == chat.PartReasoning {
		part.Streaming = true
	}
	msg.Parts = append(msg.Parts, part)
}

// upsertInvocation finds the invocation part for a tool call id, creating
// one if the stream skipped the input-start event.
func upsertInvocation(msg *chat.Message, toolCallID, toolName string) *chat.ToolInvocation {
	for i := range msg.Parts {
		p := &msg.Parts[i]
		if p.Type == chat.PartToolInvocation && p.Tool != nil && p.Tool.ToolCallID == toolCallID {
			return p.Tool
		}
	}
	inv := &chat.ToolInvocation{ToolCallID: toolCallID, ToolName: toolName}
	msg.Parts = append(msg.Parts, chat.ToolPart(inv))
	return inv
}
