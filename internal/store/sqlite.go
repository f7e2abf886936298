package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/damsac/health-assistant/internal/chat"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    title TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    parts TEXT NOT NULL,
    text_content TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_sequence ON messages(conversation_id, sequence);
`

// Open opens (creating if needed) the conversation database at the
// configured path.
func Open(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		dbPath, err = DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle so other stores can share one database
// file (the health store uses this).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ListByOwner returns the owner's conversations, most recently updated first.
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM conversations
		WHERE owner_id = ?
		ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *conv)
	}
	return results, rows.Err()
}

// GetOwned returns the conversation if it exists and belongs to ownerID.
// Returns nil (not an error) when absent or owned by someone else, so
// callers can uniformly treat both as not-found.
func (s *SQLiteStore) GetOwned(ctx context.Context, id, ownerID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM conversations
		WHERE id = ? AND owner_id = ?`, id, ownerID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetWithMessages returns the conversation and its messages in creation
// order. Nil when not found or not owned.
func (s *SQLiteStore) GetWithMessages(ctx context.Context, id, ownerID string) (*ConversationWithMessages, error) {
	conv, err := s.GetOwned(ctx, id, ownerID)
	if err != nil || conv == nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, parts, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	result := &ConversationWithMessages{Conversation: *conv}
	for rows.Next() {
		var msg chat.Message
		var partsJSON string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &partsJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if msg.Parts, err = chat.ParseParts(partsJSON); err != nil {
			return nil, fmt.Errorf("deserialize parts: %w", err)
		}
		result.Messages = append(result.Messages, msg)
	}
	return result, rows.Err()
}

// Create inserts a new conversation for the owner.
func (s *SQLiteStore) Create(ctx context.Context, ownerID, title string) (*Conversation, error) {
	now := time.Now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.OwnerID, nullString(conv.Title), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// CreateWithAutoTitle creates a conversation titled from the first user
// message's text.
func (s *SQLiteStore) CreateWithAutoTitle(ctx context.Context, ownerID, firstMessageText string) (*Conversation, error) {
	return s.Create(ctx, ownerID, chat.DeriveTitle(firstMessageText))
}

// Touch bumps the conversation's updated_at.
func (s *SQLiteStore) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// Delete removes the conversation and, via cascade, its messages. Returns
// false when the conversation does not exist or is not owned by ownerID;
// in that case nothing is modified.
func (s *SQLiteStore) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// AppendMessage appends a message to the conversation. The sequence number
// is allocated atomically in a transaction, which also bumps the
// conversation's updated_at. Each append is a single atomic insert, so
// concurrent turns on different conversations interleave safely.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	partsJSON, err := chat.StringifyParts(msg.Parts)
	if err != nil {
		return nil, fmt.Errorf("serialize parts: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now()
	conversationID := msg.ConversationID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("get max sequence: %w", err)
	}
	sequence := int64(0)
	if maxSeq.Valid {
		sequence = maxSeq.Int64 + 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, parts, text_content, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, string(msg.Role), partsJSON, msg.Text(), msg.CreatedAt, sequence)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now(), conversationID)
	if err != nil {
		return nil, fmt.Errorf("update conversation timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return msg, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var title sql.NullString
	err := row.Scan(&conv.ID, &conv.OwnerID, &title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if title.Valid {
		conv.Title = title.String
	}
	return &conv, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
