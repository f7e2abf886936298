// Package client implements the chat client: an HTTP transport speaking the
// server's SSE protocol, a session controller that tracks the active
// conversation and its approval state, and a client-side cost tracker.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/damsac/health-assistant/internal/chat"
	"github.com/damsac/health-assistant/internal/store"
)

// SendRequest is one physical turn request. Approvals set marks it a
// continuation of a paused turn; continuations carry no message.
type SendRequest struct {
	ConversationID string                  `json:"conversationId,omitempty"`
	Message        *chat.Message           `json:"message,omitempty"`
	Approvals      []chat.ApprovalResponse `json:"approvals,omitempty"`
}

// Stream yields server events until io.EOF.
type Stream interface {
	Recv() (chat.StreamEvent, error)
	Close() error
}

// Transport is the server boundary the session controller talks through.
type Transport interface {
	StreamTurn(ctx context.Context, req SendRequest) (Stream, error)
	ListConversations(ctx context.Context) ([]store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.ConversationWithMessages, error)
}

// HTTPTransport talks to the health-assistant server over HTTP with SSE
// streaming for turns.
type HTTPTransport struct {
	baseURL string
	userID  string
	token   string
	client  *http.Client
}

func NewHTTPTransport(baseURL, userID, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		token:   token,
		// No overall timeout: turn streams are long-lived.
		client: &http.Client{},
	}
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-Id", t.userID)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return req, nil
}

func (t *HTTPTransport) StreamTurn(ctx context.Context, sendReq SendRequest) (Stream, error) {
	payload, err := json.Marshal(sendReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := t.newRequest(ctx, http.MethodPost, "/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send turn: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return &sseStream{
		body:           resp.Body,
		scanner:        bufio.NewScanner(resp.Body),
		conversationID: resp.Header.Get("X-Conversation-Id"),
	}, nil
}

func (t *HTTPTransport) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	req, err := t.newRequest(ctx, http.MethodGet, "/conversations", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var conversations []store.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conversations); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return conversations, nil
}

func (t *HTTPTransport) GetConversation(ctx context.Context, id string) (*store.ConversationWithMessages, error) {
	req, err := t.newRequest(ctx, http.MethodGet, "/conversations/"+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var conv store.ConversationWithMessages
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &conv, nil
}

func (t *HTTPTransport) DeleteConversation(ctx context.Context, id string) error {
	req, err := t.newRequest(ctx, http.MethodDelete, "/conversations/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("server error (HTTP %d): %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server error: HTTP %d", resp.StatusCode)
}

// sseStream parses "data: <json>" lines off an event-stream body, ending
// on the [DONE] sentinel or body close.
type sseStream struct {
	body           io.ReadCloser
	scanner        *bufio.Scanner
	conversationID string
	done           bool
}

const doneSentinel = "[DONE]"

func (s *sseStream) Recv() (chat.StreamEvent, error) {
	if s.done {
		return chat.StreamEvent{}, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == doneSentinel {
			s.done = true
			return chat.StreamEvent{}, io.EOF
		}
		var event chat.StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			// Unknown or malformed payloads are skipped, not fatal.
			continue
		}
		return event, nil
	}
	if err := s.scanner.Err(); err != nil {
		return chat.StreamEvent{}, fmt.Errorf("read stream: %w", err)
	}
	s.done = true
	return chat.StreamEvent{}, io.EOF
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}

// ConversationID returns the conversation id announced in the response
// headers, if the server set one.
func (s *sseStream) ConversationID() string {
	return s.conversationID
}
