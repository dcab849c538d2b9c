package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/core/tools"
	"github.com/tejulabs/corpora/internal/models"
	"github.com/tejulabs/corpora/internal/util"
)

// State names the orchestrator's position in one streamed completion.
type State int

const (
	StateStreamingText State = iota
	StateAccumulatingToolCall
	StateToolCallComplete
	StateDispatching
	StateAwaitingFollowup
	StateStreamingFollowupText
	StateDone
)

// fallbackMessage is the in-band apology used whenever a tool round-trip
// cannot be completed. Errors never reach the visible stream raw.
const fallbackMessage = "I'm sorry, I ran into a problem completing that request. Please try again."

const followupInstruction = "Use the tool result above to answer the user in natural language, staying in character as the active persona. Do not mention tools, functions, or any internal mechanism."

// HistoryStore persists conversation turns. Tool-role rows are retained for
// audit and model context but hidden from the visible transcript.
type HistoryStore interface {
	AddConversationMessage(ctx context.Context, msg *models.ConversationMessage) error
	ListConversationMessages(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error)
}

// Request is one chat turn: the transcript so far plus the caller identity.
type Request struct {
	UserID   string
	Messages []core.ChatMessage
}

// Orchestrator drives a streamed completion through tool detection,
// dispatch and the follow-up round-trip, emitting only user-safe text.
type Orchestrator struct {
	llm          core.ChatCompletionService
	registry     *tools.Registry
	history      HistoryStore
	systemPrompt string

	// trace observes every state transition. Test hook, nil in production.
	trace func(State)
}

// setState advances the turn's state and notifies the trace hook.
func (o *Orchestrator) setState(state *State, next State) {
	*state = next
	if o.trace != nil {
		o.trace(next)
	}
}

func NewOrchestrator(llm core.ChatCompletionService, registry *tools.Registry, history HistoryStore, systemPrompt string) *Orchestrator {
	return &Orchestrator{
		llm:          llm,
		registry:     registry,
		history:      history,
		systemPrompt: systemPrompt,
	}
}

// toolCallAccumulator buffers one tool invocation across deltas. It exists
// only for the duration of one streamed completion.
type toolCallAccumulator struct {
	name string
	args strings.Builder
}

func (a *toolCallAccumulator) add(f *core.ToolCallFragment) {
	if a.name == "" && f.Name != "" {
		a.name = f.Name
	}
	a.args.WriteString(f.Arguments)
}

func (a *toolCallAccumulator) started() bool { return a.name != "" || a.args.Len() > 0 }

// Stream runs one chat turn. Every string passed to emit is sanitized plain
// text; tool-call bytes never reach it. The user message is persisted
// before the completion request goes out; assistant and tool rows only
// after their content is final.
func (o *Orchestrator) Stream(ctx context.Context, req Request, emit func(string) error) error {
	if len(req.Messages) == 0 {
		return errors.New("empty message list")
	}

	if last := req.Messages[len(req.Messages)-1]; last.Role == models.RoleUser {
		if err := o.persist(ctx, req.UserID, models.RoleUser, last.Content, ""); err != nil {
			return fmt.Errorf("persist user message: %w", err)
		}
	}

	msgs := make([]core.ChatMessage, 0, len(req.Messages)+1)
	if o.systemPrompt != "" {
		msgs = append(msgs, core.ChatMessage{Role: models.RoleSystem, Content: o.systemPrompt})
	}
	msgs = append(msgs, req.Messages...)

	stream, err := o.llm.StreamChat(ctx, msgs, o.registry.Specs())
	if err != nil {
		log.Printf("chat: primary completion failed: %v", err)
		return emit(fallbackMessage)
	}

	state := StateStreamingText
	var visible strings.Builder
	var acc toolCallAccumulator

	for state != StateToolCallComplete && state != StateDone {
		delta, err := stream.Recv()
		if err == io.EOF {
			// Stream ended without a finish signal. If a tool call was in
			// flight it is incomplete; reset rather than dispatch garbage.
			o.setState(&state, StateDone)
			break
		}
		if err != nil {
			log.Printf("chat: stream read failed: %v", err)
			if visible.Len() == 0 {
				return emit(fallbackMessage)
			}
			o.setState(&state, StateDone)
			break
		}

		if delta.ToolCall != nil {
			if state != StateAccumulatingToolCall {
				o.setState(&state, StateAccumulatingToolCall)
			}
			acc.add(delta.ToolCall)
		} else if delta.Content != "" && state == StateStreamingText {
			// Content arriving while a tool call accumulates is withheld:
			// nothing intended for the tool may leak to the caller.
			clean := util.SanitizePlainText(delta.Content)
			if err := emit(clean); err != nil {
				return err
			}
			visible.WriteString(clean)
		}

		switch delta.Finish {
		case core.FinishToolCall:
			if acc.started() {
				o.setState(&state, StateToolCallComplete)
			} else {
				// finish claimed a tool call that never materialized
				o.setState(&state, StateDone)
			}
		case core.FinishStop:
			if state == StateAccumulatingToolCall {
				// Interrupted mid-accumulation: drop the partial call.
				log.Printf("chat: stream finished with incomplete tool call %q, discarding", acc.name)
				acc = toolCallAccumulator{}
			}
			o.setState(&state, StateDone)
		}
	}

	if state == StateToolCallComplete {
		return o.dispatchAndFollowUp(ctx, req, msgs, &acc, &state, emit)
	}

	if visible.Len() > 0 {
		if err := o.persist(ctx, req.UserID, models.RoleAssistant, visible.String(), ""); err != nil {
			log.Printf("chat: persist assistant message: %v", err)
		}
	}
	return nil
}

// dispatchAndFollowUp parses the buffered call, routes it through the
// registry, records the hidden tool turn and issues the second,
// non-streaming completion whose output becomes the visible response.
func (o *Orchestrator) dispatchAndFollowUp(ctx context.Context, req Request, msgs []core.ChatMessage, acc *toolCallAccumulator, state *State, emit func(string) error) error {
	args, err := parseToolArguments(acc.args.String())
	if err != nil {
		log.Printf("chat: tool %q arguments unparseable: %v", acc.name, err)
		o.setState(state, StateDone)
		if err := emit(fallbackMessage); err != nil {
			return err
		}
		return o.persist(ctx, req.UserID, models.RoleAssistant, fallbackMessage, "")
	}

	o.setState(state, StateDispatching)
	result := o.registry.Dispatch(tools.WithUserID(ctx, req.UserID), acc.name, args)

	record := map[string]any{"tool": acc.name, "arguments": args, "result": result}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		recordJSON = []byte(fmt.Sprintf(`{"tool":%q,"success":%t}`, acc.name, result.Success))
	}
	if err := o.persist(ctx, req.UserID, models.RoleTool, string(recordJSON), acc.name); err != nil {
		log.Printf("chat: persist tool message: %v", err)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = []byte(fmt.Sprintf(`{"success":%t,"message":%q}`, result.Success, result.Message))
	}
	followup := append(append([]core.ChatMessage{}, msgs...),
		core.ChatMessage{Role: models.RoleTool, ToolName: acc.name, Content: string(resultJSON)},
		core.ChatMessage{Role: models.RoleSystem, Content: followupInstruction},
	)

	o.setState(state, StateAwaitingFollowup)
	text, err := o.llm.Complete(ctx, followup)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			log.Printf("chat: follow-up completion failed: %v", err)
		}
		o.setState(state, StateDone)
		if err := emit(fallbackMessage); err != nil {
			return err
		}
		return o.persist(ctx, req.UserID, models.RoleAssistant, fallbackMessage, "")
	}

	o.setState(state, StateStreamingFollowupText)
	clean := util.CollapseWhitespace(util.SanitizePlainText(text))
	if err := emit(clean); err != nil {
		return err
	}
	o.setState(state, StateDone)
	return o.persist(ctx, req.UserID, models.RoleAssistant, clean, "")
}

// VisibleHistory returns the transcript with tool-role rows filtered out.
func (o *Orchestrator) VisibleHistory(ctx context.Context, userID string, limit int) ([]models.ConversationMessage, error) {
	all, err := o.history.ListConversationMessages(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.ConversationMessage, 0, len(all))
	for _, m := range all {
		if m.Role == models.RoleTool {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (o *Orchestrator) persist(ctx context.Context, userID, role, content, toolName string) error {
	return o.history.AddConversationMessage(ctx, &models.ConversationMessage{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		ToolName:  toolName,
		CreatedAt: time.Now(),
	})
}

func parseToolArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
