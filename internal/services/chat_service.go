package services

import (
	"context"
	"errors"
	"strings"

	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/core/chat"
	"github.com/tejulabs/corpora/internal/core/tools"
	"github.com/tejulabs/corpora/internal/models"
)

const basePrompt = "You are a helpful product assistant for this business. Answer from the ingested product material and use the available tools when the user asks about personas, their profile, or the product catalog."

// historyWindow caps how many prior turns are replayed into the model context.
const historyWindow = 20

type ChatService struct {
	db         core.DbClient
	orch       *chat.Orchestrator
	businessID string
}

func NewChatService(db core.DbClient, llm core.ChatCompletionService, businessID string) (*ChatService, error) {
	registry := tools.NewRegistry()
	err := tools.RegisterBuiltins(registry, tools.Builtins{
		Personas:   db,
		Profiles:   db,
		Products:   db,
		BusinessID: businessID,
	})
	if err != nil {
		return nil, err
	}

	return &ChatService{
		db:         db,
		orch:       chat.NewOrchestrator(llm, registry, db, basePrompt),
		businessID: businessID,
	}, nil
}

// Stream runs one user turn against the supplied transcript. When the client
// sends only the new user message, the stored visible history is replayed so
// the model keeps context; a multi-turn transcript is taken as the client's
// own context and used as-is. The emit callback receives sanitized plain-text
// fragments as they arrive.
func (s *ChatService) Stream(ctx context.Context, userID string, msgs []core.ChatMessage, emit func(string) error) error {
	if len(msgs) == 0 {
		return errors.New("empty transcript")
	}

	full := s.personaPreamble(ctx, userID)
	if len(msgs) == 1 {
		full = append(full, s.recentTurns(ctx, userID)...)
	}
	full = append(full, msgs...)

	return s.orch.Stream(ctx, chat.Request{UserID: userID, Messages: full}, emit)
}

func (s *ChatService) History(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error) {
	return s.orch.VisibleHistory(ctx, userID, limit)
}

// personaPreamble injects the active persona's voice, when one is selected.
func (s *ChatService) personaPreamble(ctx context.Context, userID string) []core.ChatMessage {
	profile, err := s.db.GetUserProfile(ctx, userID)
	if err != nil || profile == nil || profile.ActivePersonaID == "" {
		return nil
	}
	personas, err := s.db.ListPersonasByBusiness(ctx, s.businessID)
	if err != nil {
		return nil
	}
	for _, p := range personas {
		if p.ID == profile.ActivePersonaID && strings.TrimSpace(p.SystemPrompt) != "" {
			return []core.ChatMessage{{Role: models.RoleSystem, Content: p.SystemPrompt}}
		}
	}
	return nil
}

// recentTurns replays the visible transcript so the model keeps context
// across requests. The new user turn is persisted by the orchestrator.
func (s *ChatService) recentTurns(ctx context.Context, userID string) []core.ChatMessage {
	rows, err := s.orch.VisibleHistory(ctx, userID, historyWindow)
	if err != nil {
		return nil
	}
	out := make([]core.ChatMessage, 0, len(rows))
	for _, m := range rows {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		out = append(out, core.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
