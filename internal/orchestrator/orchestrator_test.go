package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/damsac/health-assistant/internal/chat"
	"github.com/damsac/health-assistant/internal/health"
	"github.com/damsac/health-assistant/internal/llm"
	"github.com/damsac/health-assistant/internal/pricing"
	"github.com/damsac/health-assistant/internal/store"
)

// scriptProvider replays a fixed sequence of model rounds and records the
// requests it receives.
type scriptProvider struct {
	rounds   [][]llm.Event
	errs     []error
	requests []llm.Request
	calls    int
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	var events []llm.Event
	if i < len(p.rounds) {
		events = p.rounds[i]
	} else if len(p.rounds) > 0 {
		// Repeat the last round when the script runs out, for loop tests.
		events = p.rounds[len(p.rounds)-1]
	}
	return &scriptStream{events: events}, nil
}

type scriptStream struct {
	events []llm.Event
	pos    int
}

func (s *scriptStream) Recv() (llm.Event, error) {
	if s.pos >= len(s.events) {
		return llm.Event{}, io.EOF
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}

func (s *scriptStream) Close() error { return nil }

type testEnv struct {
	store    *store.SQLiteStore
	health   *health.Store
	provider *scriptProvider
	orch     *Orchestrator
}

func newTestEnv(t *testing.T, provider *scriptProvider) *testEnv {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	hs, err := health.NewStore(st.DB())
	if err != nil {
		t.Fatalf("init health store: %v", err)
	}
	orch := New(st, hs, provider, pricing.DefaultTable(), Config{
		Model: "claude-3-5-haiku-20241022",
	}, log.New(io.Discard, "", 0))
	return &testEnv{store: st, health: hs, provider: provider, orch: orch}
}

// collect gathers emitted events for assertions.
type collect struct {
	events []chat.StreamEvent
}

func (c *collect) emit(event chat.StreamEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *collect) ofType(t chat.StreamEventType) []chat.StreamEvent {
	var out []chat.StreamEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *collect) finishReason() chat.FinishReason {
	for _, e := range c.events {
		if e.Type == chat.EventFinish {
			return e.FinishReason
		}
	}
	return ""
}

func textRound(text string) []llm.Event {
	return []llm.Event{
		{Type: llm.EventTextDelta, Text: text},
		{Type: llm.EventUsage, Use: &llm.Usage{InputTokens: 100, OutputTokens: 50}},
		{Type: llm.EventDone},
	}
}

func toolRound(id, name, args string) []llm.Event {
	call := &llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
	return []llm.Event{
		{Type: llm.EventToolCallStart, Tool: call},
		{Type: llm.EventToolCall, Tool: call},
		{Type: llm.EventUsage, Use: &llm.Usage{InputTokens: 100, OutputTokens: 20}},
		{Type: llm.EventDone},
	}
}

func TestPlainTextTurn(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{rounds: [][]llm.Event{textRound("Hello there!")}})
	ctx := context.Background()

	var c collect
	err := env.orch.HandleTurn(ctx, TurnRequest{
		OwnerID: "alice",
		Message: "Hi, I want to eat healthier",
	}, c.emit)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}

	starts := c.ofType(chat.EventStart)
	if len(starts) != 1 || starts[0].ConversationID == "" || starts[0].MessageID == "" {
		t.Fatalf("bad start event: %+v", starts)
	}
	if got := c.finishReason(); got != chat.FinishStop {
		t.Errorf("finish reason = %s, want stop", got)
	}

	var streamed strings.Builder
	for _, e := range c.ofType(chat.EventTextDelta) {
		streamed.WriteString(e.Delta)
	}
	if streamed.String() != "Hello there!" {
		t.Errorf("streamed text = %q", streamed.String())
	}

	costs := c.ofType(chat.EventCostEstimate)
	if len(costs) != 1 || costs[0].Cost == nil || costs[0].Cost.TotalCost <= 0 {
		t.Fatalf("bad cost event: %+v", costs)
	}
	if costs[0].Cost.TokenUsage.InputTokens != 100 || costs[0].Cost.TokenUsage.OutputTokens != 50 {
		t.Errorf("usage = %+v", costs[0].Cost.TokenUsage)
	}

	// Both messages persisted, auto title derived from the first message.
	full, err := env.store.GetWithMessages(ctx, starts[0].ConversationID, "alice")
	if err != nil || full == nil {
		t.Fatalf("load transcript: %v", err)
	}
	if full.Title != "Hi, I want to eat healthier" {
		t.Errorf("title = %q", full.Title)
	}
	if len(full.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(full.Messages))
	}
	if full.Messages[0].Role != chat.RoleUser || full.Messages[1].Role != chat.RoleAssistant {
		t.Errorf("roles = %s, %s", full.Messages[0].Role, full.Messages[1].Role)
	}
	if full.Messages[1].ID != starts[0].MessageID {
		t.Errorf("assistant id %q does not match announced %q", full.Messages[1].ID, starts[0].MessageID)
	}
	if full.Messages[1].Text() != "Hello there!" {
		t.Errorf("assistant text = %q", full.Messages[1].Text())
	}
}

func TestReadOnlyToolExecutesWithoutApproval(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{rounds: [][]llm.Event{
		toolRound("call-1", "manage_goals", `{"action":"list"}`),
		textRound("You have no goals yet."),
	}})
	ctx := context.Background()

	var c collect
	err := env.orch.HandleTurn(ctx, TurnRequest{OwnerID: "alice", Message: "what are my goals?"}, c.emit)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if got := c.finishReason(); got != chat.FinishStop {
		t.Errorf("finish reason = %s, want stop", got)
	}

	inputs := c.ofType(chat.EventToolInput)
	if len(inputs) != 1 || inputs[0].State != chat.StateExecuting {
		t.Fatalf("expected one executing tool-input event, got %+v", inputs)
	}
	outputs := c.ofType(chat.EventToolOutput)
	if len(outputs) != 1 || outputs[0].ToolCallID != "call-1" {
		t.Fatalf("expected one tool output, got %+v", outputs)
	}

	// Second model round received the tool result.
	if len(env.provider.requests) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(env.provider.requests))
	}
	second := env.provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool {
		t.Fatalf("expected trailing tool message, got role %s", last.Role)
	}
	if !strings.Contains(last.Parts[0].ToolResult.Content, `"success":true`) {
		t.Errorf("tool result content = %q", last.Parts[0].ToolResult.Content)
	}
}

func TestGatedToolPausesTurn(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{rounds: [][]llm.Event{
		toolRound("call-1", "update_profile", `{"weight_lbs":150}`),
	}})
	ctx := context.Background()

	var c collect
	err := env.orch.HandleTurn(ctx, TurnRequest{OwnerID: "alice", Message: "I weigh 150 lbs"}, c.emit)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if got := c.finishReason(); got != chat.FinishAwaitingApproval {
		t.Errorf("finish reason = %s, want awaiting-approval", got)
	}

	inputs := c.ofType(chat.EventToolInput)
	if len(inputs) != 1 || inputs[0].State != chat.StateAwaitingApproval {
		t.Fatalf("expected awaiting-approval tool input, got %+v", inputs)
	}
	if len(c.ofType(chat.EventToolOutput)) != 0 {
		t.Error("gated tool produced output before approval")
	}

	// Nothing executed: the profile is untouched.
	profile, err := env.health.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile != nil {
		t.Errorf("profile written before approval: %+v", profile)
	}

	// The pause is durable: the persisted message carries the pending gate.
	convID := c.ofType(chat.EventStart)[0].ConversationID
	full, err := env.store.GetWithMessages(ctx, convID, "alice")
	if err != nil || full == nil {
		t.Fatalf("load transcript: %v", err)
	}
	last := full.Messages[len(full.Messages)-1]
	pending := last.PendingApprovals()
	if len(pending) != 1 || pending[0].ToolCallID != "call-1" {
		t.Fatalf("expected persisted pending approval, got %+v", pending)
	}
}

// pauseAtGate runs a fresh turn that stops at the approval gate and returns
// the conversation id.
func pauseAtGate(t *testing.T, env *testEnv) string {
	t.Helper()
	var c collect
	err := env.orch.HandleTurn(context.Background(), TurnRequest{
		OwnerID: "alice",
		Message: "I weigh 150 lbs",
	}, c.emit)
	if err != nil {
		t.Fatalf("pause turn: %v", err)
	}
	if c.finishReason() != chat.FinishAwaitingApproval {
		t.Fatalf("setup turn did not pause: %s", c.finishReason())
	}
	return c.ofType(chat.EventStart)[0].ConversationID
}

func TestApprovedToolExecutesOnContinuation(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{rounds: [][]llm.Event{
		toolRound("call-1", "update_profile", `{"weight_lbs":150}`),
		textRound("Saved your weight."),
	}})
	ctx := context.Background()
	convID := pauseAtGate(t, env)

	var c collect
	err := env.orch.HandleTurn(ctx, TurnRequest{
		OwnerID:        "alice",
		ConversationID: convID,
		Approvals:      []chat.ApprovalResponse{{ToolCallID: "call-1", Approved: true}},
	}, c.emit)
	if err != nil {
		t.Fatalf("continuation: %v", err)
	}
	if got := c.finishReason(); got != chat.FinishStop {
		t.Errorf("finish reason = %s, want stop", got)
	}

	outputs := c.ofType(chat.EventToolOutput)
	if len(outputs) != 1 || outputs[0].ToolCallID != "call-1" {
		t.Fatalf("expected tool output on continuation, got %+v", outputs)
	}

	profile, err := env.health.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile == nil || profile.WeightGrams != 68039 {
		t.Errorf("profile after approval = %+v", profile)
	}

	// The continuation appends a new assistant message carrying the
	// resolved invocation; the paused message stays as written.
	full, err := env.store.GetWithMessages(ctx, convID, "alice")
	if err != nil || full == nil {
		t.Fatalf("load transcript: %v", err)
	}
	if len(full.Messages) != 3 {
		t.Fatalf("expected 3 messages (user, paused, continuation), got %d", len(full.Messages))
	}
	resolved := full.Messages[2]
	var inv *chat.ToolInvocation
	for _, p := range resolved.Parts {
		if p.Type == chat.PartToolInvocation {
			inv = p.Tool
		}
	}
	if inv == nil || inv.State != chat.StateOutputAvailable {
		t.Fatalf("resolved invocation = %+v", inv)
	}
	if inv.Approval == nil || !inv.Approval.Approved {
		t.Errorf("approval record missing: %+v", inv)
	}
}

func TestDeniedToolNeverExecutes(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{rounds: [][]llm.Event{
		toolRound("call-1", "update_profile", `{"weight_lbs":150}`),
		textRound("Understood, I won't save that."),
	}})
	ctx := context.Background()
	convID := pauseAtGate(t, env)

	var c collect
	err := env.orch.HandleTurn(ctx, TurnRequest{
		OwnerID:        "alice",
		ConversationID: convID,
		Approvals:      []chat.ApprovalResponse{{ToolCallID: "call-1", Approved: false}},
	}, c.emit)
	if err != nil {
		t.Fatalf("continuation: %v", err)
	}

	toolErrs := c.ofType(chat.EventToolError)
	if len(toolErrs) != 1 || toolErrs[0].State != chat.StateDenied {
		t.Fatalf("expected denied tool event, got %+v", toolErrs)
	}
	if len(c.ofType(chat.EventToolOutput)) != 0 {
		t.Error("denied tool produced output")
	}

	profile, err := env.health.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile != nil {
		t.Errorf("denied tool still wrote profile: %+v", profile)
	}

	// The model was told about the denial so it can respond to it.
	continuationReq := env.provider.requests[len(env.provider.requests)-1]
	var sawDenial bool
	for _, msg := range continuationReq.Messages {
		for _, part := range msg.Parts {
			if part.ToolResult != nil && part.ToolResult.Content == deniedResultText {
				sawDenial = true
			}
		}
	}
	if !sawDenial {
		t.Error("denial result not included in model history")
	}
}

func TestDuplicateApprovalsConsumedOnce(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{rounds: [][]llm.Event{
		toolRound("call-1", "manage_goals", `{"action":"create","title":"Run a 5k"}`),
		textRound("Goal created."),
	}})
	ctx := context.Background()

	var pause collect
	if err := env.orch.HandleTurn(ctx, TurnRequest{OwnerID: "alice", Message: "add a goal to run a 5k"}, pause.emit); err != nil {
		t.Fatalf("pause turn: %v", err)
	}
	convID := pause.ofType(chat.EventStart)[0].ConversationID

	var c collect
	err := env.orch.HandleTurn(ctx, TurnRequest{
		OwnerID:        "alice",
		ConversationID: convID,
		Approvals: []chat.ApprovalResponse{
			{ToolCallID: "call-1", Approved: true},
			{ToolCallID: "call-1", Approved: true},
			{ToolCallID: "unknown-call", Approved: true},
		},
	}, c.emit)
	if err != nil {
		t.Fatalf("continuation: %v", err)
	}

	goals, err := env.health.ListGoals(ctx, "alice")
	if err != nil {
		t.Fatalf("list goals: %v", err)
	}
	if len(goals) != 1 {
		t.Errorf("duplicate approval executed tool twice: %d goals", len(goals))
	}
}

func TestMaxToolRounds(t *testing.T) {
	// The model calls a read-only tool forever; the loop must stop.
	env := newTestEnv(t, &scriptProvider{rounds: [][]llm.Event{
		toolRound("call-1", "manage_goals", `{"action":"list"}`),
	}})
	ctx := context.Background()

	var c collect
	err := env.orch.HandleTurn(ctx, TurnRequest{OwnerID: "alice", Message: "loop please"}, c.emit)
	if err != nil {
		t.Fatalf("handle turn: %v", err)
	}
	if got := c.finishReason(); got != chat.FinishMaxRounds {
		t.Errorf("finish reason = %s, want max-rounds", got)
	}
	if env.provider.calls != DefaultMaxToolRounds {
		t.Errorf("model called %d times, want %d", env.provider.calls, DefaultMaxToolRounds)
	}
}

func TestStreamFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{errs: []error{errors.New("model unavailable")}})
	ctx := context.Background()

	var c collect
	err := env.orch.HandleTurn(ctx, TurnRequest{OwnerID: "alice", Message: "hello"}, c.emit)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(c.ofType(chat.EventError)) != 1 {
		t.Errorf("expected one error event, got %+v", c.events)
	}

	// The user message is durable but no assistant message was written.
	convID := c.ofType(chat.EventStart)[0].ConversationID
	full, err := env.store.GetWithMessages(ctx, convID, "alice")
	if err != nil || full == nil {
		t.Fatalf("load transcript: %v", err)
	}
	if len(full.Messages) != 1 || full.Messages[0].Role != chat.RoleUser {
		t.Errorf("unexpected persisted messages: %d", len(full.Messages))
	}
}

func TestConversationNotFoundBeforeAnyEvent(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{rounds: [][]llm.Event{textRound("hi")}})
	ctx := context.Background()

	other, err := env.store.Create(ctx, "bob", "Bob's conversation")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	var c collect
	err = env.orch.HandleTurn(ctx, TurnRequest{
		OwnerID:        "alice",
		ConversationID: other.ID,
		Message:        "hello",
	}, c.emit)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if len(c.events) != 0 {
		t.Errorf("events emitted before lookup failure: %+v", c.events)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{})
	var c collect
	err := env.orch.HandleTurn(context.Background(), TurnRequest{OwnerID: "alice", Message: "   "}, c.emit)
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(c.events) != 0 {
		t.Errorf("events emitted for rejected request: %+v", c.events)
	}
}

func TestEmptyMessageRejectedForExistingConversation(t *testing.T) {
	provider := &scriptProvider{}
	env := newTestEnv(t, provider)
	ctx := context.Background()

	conv, err := env.store.Create(ctx, "alice", "Daily check-in")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	var c collect
	err = env.orch.HandleTurn(ctx, TurnRequest{
		OwnerID:        "alice",
		ConversationID: conv.ID,
		Message:        "   ",
	}, c.emit)
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(c.events) != 0 {
		t.Errorf("events emitted for rejected request: %+v", c.events)
	}
	if provider.calls != 0 {
		t.Errorf("model invoked %d times for rejected request", provider.calls)
	}

	full, err := env.store.GetWithMessages(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if len(full.Messages) != 0 {
		t.Errorf("blank turn persisted %d messages", len(full.Messages))
	}
}

func TestContinuationWithoutConversationRejected(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{})
	var c collect
	err := env.orch.HandleTurn(context.Background(), TurnRequest{
		OwnerID:   "alice",
		Approvals: []chat.ApprovalResponse{{ToolCallID: "x", Approved: true}},
	}, c.emit)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}
