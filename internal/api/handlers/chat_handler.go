package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	middleware "github.com/tejulabs/corpora/internal/api/middlewares"
	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/models"
)

// ChatStreamer is the slice of the chat service the handler needs.
type ChatStreamer interface {
	Stream(ctx context.Context, userID string, msgs []core.ChatMessage, emit func(string) error) error
	History(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error)
}

type ChatHandler struct {
	chat ChatStreamer
}

func NewChatHandler(chat ChatStreamer) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type chatWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatStreamRequest struct {
	Messages []chatWireMessage `json:"messages"`
	UserID   string            `json:"userId"`

	// Message is the single-turn shorthand; the server replays stored
	// history around it.
	Message string `json:"message"`
}

// StreamChat streams the assistant response as incremental text/plain
// fragments. The body carries either a messages transcript or a bare
// message. Tool calls are handled inside the orchestrator; the client only
// ever sees natural-language text.
// POST /api/chat/stream
func (h *ChatHandler) StreamChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID != "" && req.UserID != userID {
		http.Error(w, "userId does not match the authenticated user", http.StatusForbidden)
		return
	}

	msgs, err := transcript(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	err = h.chat.Stream(r.Context(), userID, msgs, func(fragment string) error {
		if fragment == "" {
			return nil
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are already out; all we can do is log and close.
		log.Printf("chat: stream for user %s ended with error: %v", userID, err)
	}
}

// transcript validates the wire shape and normalizes it to chat messages.
// The transcript must end on a user turn; tool rows never come from clients.
func transcript(req chatStreamRequest) ([]core.ChatMessage, error) {
	msgs := make([]core.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			return nil, fmt.Errorf("unsupported role %q", m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, fmt.Errorf("empty content for role %q", m.Role)
		}
		msgs = append(msgs, core.ChatMessage{Role: m.Role, Content: m.Content})
	}

	if len(msgs) == 0 {
		if strings.TrimSpace(req.Message) == "" {
			return nil, fmt.Errorf("messages or message is required")
		}
		msgs = append(msgs, core.ChatMessage{Role: models.RoleUser, Content: req.Message})
	}
	if msgs[len(msgs)-1].Role != models.RoleUser {
		return nil, fmt.Errorf("transcript must end with a user message")
	}
	return msgs, nil
}

// GetHistory returns the visible transcript, tool rows filtered out.
// GET /api/chat/history?limit=
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	history, err := h.chat.History(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}
