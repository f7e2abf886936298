// Package store provides durable, ownership-scoped persistence for
// conversations and their ordered messages.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/damsac/health-assistant/internal/chat"
)

// Conversation is a persisted conversation owned by exactly one user.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationWithMessages pairs a conversation with its messages in
// creation order, part payloads deserialized.
type ConversationWithMessages struct {
	Conversation
	Messages []chat.Message `json:"messages"`
}

// Store is the interface for conversation persistence. All lookups and
// mutations are scoped by owner; cross-tenant access fails closed (nil or
// false, never another user's data).
type Store interface {
	ListByOwner(ctx context.Context, ownerID string) ([]Conversation, error)
	GetOwned(ctx context.Context, id, ownerID string) (*Conversation, error)
	GetWithMessages(ctx context.Context, id, ownerID string) (*ConversationWithMessages, error)
	Create(ctx context.Context, ownerID, title string) (*Conversation, error)
	CreateWithAutoTitle(ctx context.Context, ownerID, firstMessageText string) (*Conversation, error)
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id, ownerID string) (bool, error)

	// AppendMessage persists msg at the next sequence position in its
	// conversation. msg must carry ConversationID, Role and Parts; a
	// missing ID is generated. The stored message is returned.
	AppendMessage(ctx context.Context, msg *chat.Message) (*chat.Message, error)

	Close() error
}

// Config holds conversation storage configuration.
type Config struct {
	Path string `mapstructure:"path"` // database file; empty = default location
}

// DefaultDBPath returns the default database location under the XDG data
// directory.
func DefaultDBPath() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "health-assistant", "conversations.db"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "health-assistant", "conversations.db"), nil
}
