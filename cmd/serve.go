package cmd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/damsac/health-assistant/internal/chat"
	"github.com/damsac/health-assistant/internal/config"
	"github.com/damsac/health-assistant/internal/health"
	"github.com/damsac/health-assistant/internal/llm"
	"github.com/damsac/health-assistant/internal/orchestrator"
	"github.com/damsac/health-assistant/internal/store"
)

var (
	serveHost  string
	servePort  int
	serveToken string
	serveDB    string
	serveModel string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the health-assistant HTTP server.

Endpoints:
  POST   /chat                    stream a conversation turn (SSE)
  GET    /conversations           list the caller's conversations
  POST   /conversations           create an empty conversation
  GET    /conversations/{id}      fetch a conversation with messages
  DELETE /conversations/{id}      delete a conversation
  GET    /healthz

Callers identify themselves with the X-User-Id header. When a bearer
token is configured, every request except /healthz must also carry it.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token for API auth (overrides config)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Database file path (overrides config)")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "Model ID (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveToken != "" {
		cfg.Server.Token = serveToken
	}
	if serveDB != "" {
		cfg.Database.Path = serveDB
	}
	if serveModel != "" {
		cfg.Anthropic.Model = serveModel
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", cfg.Server.Port)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	healthStore, err := health.NewStore(st.DB())
	if err != nil {
		return err
	}

	provider, err := llm.NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	if err != nil {
		return err
	}

	logger := log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	orch := orchestrator.New(st, healthStore, provider, cfg.PriceTable(), orchestrator.Config{
		Model:           cfg.Anthropic.Model,
		MaxToolRounds:   cfg.Chat.MaxToolRounds,
		MaxOutputTokens: cfg.Chat.MaxOutputTokens,
	}, logger)

	srv := &apiServer{
		store:  st,
		orch:   orch,
		token:  strings.TrimSpace(cfg.Server.Token),
		logger: logger,
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "health-assistant listening on http://%s\n", cfg.Addr())
	fmt.Fprintf(cmd.ErrOrStderr(), "model: %s\n", cfg.Anthropic.Model)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type apiServer struct {
	store  store.Store
	orch   *orchestrator.Orchestrator
	token  string
	logger *log.Logger
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /chat", s.auth(s.handleChat))
	mux.HandleFunc("GET /conversations", s.auth(s.handleListConversations))
	mux.HandleFunc("POST /conversations", s.auth(s.handleCreateConversation))
	mux.HandleFunc("GET /conversations/{id}", s.auth(s.handleGetConversation))
	mux.HandleFunc("DELETE /conversations/{id}", s.auth(s.handleDeleteConversation))
	return mux
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

// auth enforces the optional bearer token and requires a caller identity.
// The user id is trusted from the X-User-Id header; running behind an
// authenticating proxy is assumed for multi-user deployments.
func (s *apiServer) auth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			header := r.Header.Get("Authorization")
			provided, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID == "" {
			writeJSONError(w, http.StatusBadRequest, "X-User-Id header is required")
			return
		}
		next(w, r, userID)
	}
}

// chatRequest is the POST /chat body. Message is absent on continuation
// requests, which instead carry approval responses.
type chatRequest struct {
	ConversationID string                  `json:"conversationId,omitempty"`
	Message        *chat.Message           `json:"message,omitempty"`
	Approvals      []chat.ApprovalResponse `json:"approvals,omitempty"`
}

func (s *apiServer) handleChat(w http.ResponseWriter, r *http.Request, userID string) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var messageText string
	if req.Message != nil {
		messageText = req.Message.Text()
	}

	sse := &sseWriter{w: w, flusher: flusher}
	err := s.orch.HandleTurn(r.Context(), orchestrator.TurnRequest{
		OwnerID:        userID,
		ConversationID: req.ConversationID,
		Message:        messageText,
		Approvals:      req.Approvals,
	}, sse.emit)

	if err != nil && !sse.started {
		// Nothing streamed yet, answer with a plain status.
		switch {
		case errors.Is(err, orchestrator.ErrConversationNotFound):
			writeJSONError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, orchestrator.ErrEmptyMessage):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Printf("chat turn: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	sse.finish()
}

func (s *apiServer) handleListConversations(w http.ResponseWriter, r *http.Request, userID string) {
	conversations, err := s.store.ListByOwner(r.Context(), userID)
	if err != nil {
		s.logger.Printf("list conversations: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if conversations == nil {
		conversations = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (s *apiServer) handleCreateConversation(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conv, err := s.store.Create(r.Context(), userID, req.Title)
	if err != nil {
		s.logger.Printf("create conversation: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *apiServer) handleGetConversation(w http.ResponseWriter, r *http.Request, userID string) {
	conv, err := s.store.GetWithMessages(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.logger.Printf("get conversation: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if conv == nil {
		writeJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *apiServer) handleDeleteConversation(w http.ResponseWriter, r *http.Request, userID string) {
	deleted, err := s.store.Delete(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.logger.Printf("delete conversation: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !deleted {
		writeJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sseWriter streams chat events as server-sent events. The first event
// carries the conversation id, which is mirrored into a response header
// before the body starts.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) emit(event chat.StreamEvent) error {
	if !s.started {
		if event.ConversationID != "" {
			s.w.Header().Set("X-Conversation-Id", event.ConversationID)
		}
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) finish() {
	if !s.started {
		return
	}
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
