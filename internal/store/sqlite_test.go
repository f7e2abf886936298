package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/damsac/health-assistant/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "conversations.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.Create(ctx, "alice", "Meal planning")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected generated conversation id")
	}
	if _, err := st.Create(ctx, "alice", "Sleep troubles"); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := st.Create(ctx, "bob", "Bob's conversation"); err != nil {
		t.Fatalf("create for other user: %v", err)
	}

	list, err := st.ListByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations for alice, got %d", len(list))
	}
	for _, c := range list {
		if c.OwnerID != "alice" {
			t.Errorf("listed conversation owned by %q", c.OwnerID)
		}
	}
}

func TestOwnershipFailsClosed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv, err := st.Create(ctx, "alice", "Private")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.GetOwned(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("get as other user: %v", err)
	}
	if got != nil {
		t.Error("expected nil when fetching another user's conversation")
	}

	full, err := st.GetWithMessages(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("get with messages as other user: %v", err)
	}
	if full != nil {
		t.Error("expected nil when fetching another user's transcript")
	}

	deleted, err := st.Delete(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("delete as other user: %v", err)
	}
	if deleted {
		t.Error("expected delete of another user's conversation to report false")
	}

	// The rightful owner still sees it.
	own, err := st.GetOwned(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("get as owner: %v", err)
	}
	if own == nil {
		t.Fatal("owner lost access to their conversation")
	}
}

func TestDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv, err := st.Create(ctx, "alice", "Temp")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.AppendMessage(ctx, &chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleUser,
		Parts:          []chat.Part{chat.TextPart("hi")},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	deleted, err := st.Delete(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to succeed")
	}

	got, err := st.GetOwned(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("conversation still present after delete")
	}

	again, err := st.Delete(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if again {
		t.Error("expected second delete to report false")
	}
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv, err := st.Create(ctx, "alice", "Ordering")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	texts := []string{"first", "second", "third", "fourth"}
	roles := []chat.Role{chat.RoleUser, chat.RoleAssistant, chat.RoleUser, chat.RoleAssistant}
	for i, text := range texts {
		if _, err := st.AppendMessage(ctx, &chat.Message{
			ConversationID: conv.ID,
			Role:           roles[i],
			Parts:          []chat.Part{chat.TextPart(text)},
		}); err != nil {
			t.Fatalf("append %q: %v", text, err)
		}
	}

	full, err := st.GetWithMessages(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("get with messages: %v", err)
	}
	if full == nil {
		t.Fatal("conversation not found")
	}
	if len(full.Messages) != len(texts) {
		t.Fatalf("expected %d messages, got %d", len(texts), len(full.Messages))
	}
	for i, msg := range full.Messages {
		if got := msg.Text(); got != texts[i] {
			t.Errorf("message %d = %q, want %q", i, got, texts[i])
		}
		if msg.Role != roles[i] {
			t.Errorf("message %d role = %s, want %s", i, msg.Role, roles[i])
		}
	}
}

func TestAppendMessageKeepsProvidedID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv, err := st.Create(ctx, "alice", "IDs")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stored, err := st.AppendMessage(ctx, &chat.Message{
		ID:             "preassigned-id",
		ConversationID: conv.ID,
		Role:           chat.RoleAssistant,
		Parts:          []chat.Part{chat.TextPart("hello")},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored.ID != "preassigned-id" {
		t.Errorf("stored id = %q, want preassigned-id", stored.ID)
	}

	generated, err := st.AppendMessage(ctx, &chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleUser,
		Parts:          []chat.Part{chat.TextPart("no id")},
	})
	if err != nil {
		t.Fatalf("append without id: %v", err)
	}
	if generated.ID == "" {
		t.Error("expected generated message id")
	}
}

func TestAppendMessagePersistsToolParts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv, err := st.Create(ctx, "alice", "Tools")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	msg := &chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleAssistant,
		Parts: []chat.Part{
			chat.TextPart("Updating your profile."),
			chat.ToolPart(&chat.ToolInvocation{
				ToolCallID: "call-1",
				ToolName:   "update_profile",
				Input:      []byte(`{"weight_lbs":150}`),
				State:      chat.StateAwaitingApproval,
			}),
		},
	}
	if _, err := st.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	full, err := st.GetWithMessages(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(full.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(full.Messages))
	}
	pending := full.Messages[0].PendingApprovals()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending approval after reload, got %d", len(pending))
	}
	if pending[0].ToolCallID != "call-1" || pending[0].ToolName != "update_profile" {
		t.Errorf("unexpected pending invocation: %+v", pending[0])
	}
}

func TestCreateWithAutoTitle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv, err := st.CreateWithAutoTitle(ctx, "alice", "  How much   protein should I eat daily?  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != "How much protein should I eat daily?" {
		t.Errorf("title = %q", conv.Title)
	}

	long, err := st.CreateWithAutoTitle(ctx, "alice", strings.Repeat("carbs ", 30))
	if err != nil {
		t.Fatalf("create long: %v", err)
	}
	if len(long.Title) > 50 {
		t.Errorf("auto title too long: %d chars", len(long.Title))
	}
}
