package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/core/tools"
	"github.com/tejulabs/corpora/internal/models"
)

type fakeStream struct {
	deltas []core.StreamDelta
	pos    int
	err    error
}

func (s *fakeStream) Recv() (core.StreamDelta, error) {
	if s.pos >= len(s.deltas) {
		if s.err != nil {
			return core.StreamDelta{}, s.err
		}
		return core.StreamDelta{}, io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

type fakeLLM struct {
	stream       *fakeStream
	streamErr    error
	completion   string
	completeErr  error
	completeMsgs []core.ChatMessage
	streamCalls  int
}

func (f *fakeLLM) StreamChat(_ context.Context, _ []core.ChatMessage, _ []core.ToolSpec) (core.ChatStream, error) {
	f.streamCalls++
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func (f *fakeLLM) Complete(_ context.Context, msgs []core.ChatMessage) (string, error) {
	f.completeMsgs = msgs
	return f.completion, f.completeErr
}

type fakeHistory struct {
	rows []models.ConversationMessage
}

func (h *fakeHistory) AddConversationMessage(_ context.Context, msg *models.ConversationMessage) error {
	h.rows = append(h.rows, *msg)
	return nil
}

func (h *fakeHistory) ListConversationMessages(_ context.Context, userID string, _ int) ([]models.ConversationMessage, error) {
	var out []models.ConversationMessage
	for _, m := range h.rows {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (h *fakeHistory) roles() []string {
	var out []string
	for _, m := range h.rows {
		out = append(out, m.Role)
	}
	return out
}

func collectEmit(chunks *[]string) func(string) error {
	return func(s string) error {
		*chunks = append(*chunks, s)
		return nil
	}
}

func userRequest(text string) Request {
	return Request{
		UserID:   "user-1",
		Messages: []core.ChatMessage{{Role: models.RoleUser, Content: text}},
	}
}

func textDeltas(parts ...string) []core.StreamDelta {
	out := make([]core.StreamDelta, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, core.StreamDelta{Content: p})
	}
	return append(out, core.StreamDelta{Finish: core.FinishStop})
}

func toolDeltas(name string, argParts ...string) []core.StreamDelta {
	out := []core.StreamDelta{{ToolCall: &core.ToolCallFragment{Name: name}}}
	for _, p := range argParts {
		out = append(out, core.StreamDelta{ToolCall: &core.ToolCallFragment{Arguments: p}})
	}
	return append(out, core.StreamDelta{Finish: core.FinishToolCall})
}

func TestStreamPlainTextPassthrough(t *testing.T) {
	llm := &fakeLLM{stream: &fakeStream{deltas: textDeltas("Hello, ", "world.")}}
	hist := &fakeHistory{}
	o := NewOrchestrator(llm, tools.NewRegistry(), hist, "be helpful")

	var chunks []string
	err := o.Stream(context.Background(), userRequest("hi"), collectEmit(&chunks))
	require.NoError(t, err)
	require.Equal(t, "Hello, world.", strings.Join(chunks, ""))
	require.Equal(t, []string{models.RoleUser, models.RoleAssistant}, hist.roles())
}

func TestStreamUserPersistedBeforeCompletion(t *testing.T) {
	hist := &fakeHistory{}
	llm := &fakeLLM{}
	llm.streamErr = errors.New("unavailable")
	o := NewOrchestrator(llm, tools.NewRegistry(), hist, "")

	var chunks []string
	err := o.Stream(context.Background(), userRequest("remember me"), collectEmit(&chunks))
	require.NoError(t, err)
	// Even though the model never answered, the user turn is durable.
	require.Equal(t, []string{models.RoleUser}, hist.roles())
	require.Equal(t, []string{fallbackMessage}, chunks)
}

func TestStreamToolCallBytesNeverVisible(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(core.ToolSpec{Name: "get_personas"}, func(_ context.Context, _ map[string]any) tools.Result {
		return tools.Result{Success: true, Message: "two personas"}
	}))
	llm := &fakeLLM{
		stream:     &fakeStream{deltas: toolDeltas("get_personas", `{`, `}`)},
		completion: "We offer the Concierge and the Analyst.",
	}
	hist := &fakeHistory{}
	o := NewOrchestrator(llm, reg, hist, "")

	var chunks []string
	err := o.Stream(context.Background(), userRequest("who can I talk to?"), collectEmit(&chunks))
	require.NoError(t, err)

	joined := strings.Join(chunks, "")
	require.NotContains(t, joined, "get_personas")
	require.NotContains(t, joined, "{")
	require.Equal(t, "We offer the Concierge and the Analyst.", joined)
}

func TestStreamDispatchesExactlyOnce(t *testing.T) {
	var calls int
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(core.ToolSpec{Name: "get_personas"}, func(_ context.Context, _ map[string]any) tools.Result {
		calls++
		return tools.Result{Success: true}
	}))
	llm := &fakeLLM{
		stream:     &fakeStream{deltas: toolDeltas("get_personas", `{}`)},
		completion: "Here you go.",
	}
	hist := &fakeHistory{}
	o := NewOrchestrator(llm, reg, hist, "")

	var chunks []string
	require.NoError(t, o.Stream(context.Background(), userRequest("personas?"), collectEmit(&chunks)))
	require.Equal(t, 1, calls)
	// user, tool record, final assistant
	require.Equal(t, []string{models.RoleUser, models.RoleTool, models.RoleAssistant}, hist.roles())
	require.Equal(t, "get_personas", hist.rows[1].ToolName)
}

func TestStreamThrowingHandlerStillAnswers(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(core.ToolSpec{Name: "get_profile"}, func(_ context.Context, _ map[string]any) tools.Result {
		panic("store offline")
	}))
	llm := &fakeLLM{
		stream:     &fakeStream{deltas: toolDeltas("get_profile", `{}`)},
		completion: "I could not look that up just now, sorry.",
	}
	hist := &fakeHistory{}
	o := NewOrchestrator(llm, reg, hist, "")

	var chunks []string
	err := o.Stream(context.Background(), userRequest("my profile"), collectEmit(&chunks))
	require.NoError(t, err)
	require.NotEmpty(t, strings.Join(chunks, ""))
	// The failure result still travels to the follow-up completion.
	var sawToolRole bool
	for _, m := range llm.completeMsgs {
		if m.Role == models.RoleTool {
			sawToolRole = true
			require.Contains(t, m.Content, `"success":false`)
		}
	}
	require.True(t, sawToolRole)
}

func TestStreamUnparseableArgumentsApologizes(t *testing.T) {
	reg := tools.NewRegistry()
	var calls int
	require.NoError(t, reg.Register(core.ToolSpec{Name: "switch_persona"}, func(_ context.Context, _ map[string]any) tools.Result {
		calls++
		return tools.Result{Success: true}
	}))
	llm := &fakeLLM{stream: &fakeStream{deltas: toolDeltas("switch_persona", `{"persona": "conci`)}}
	hist := &fakeHistory{}
	o := NewOrchestrator(llm, reg, hist, "")

	var chunks []string
	err := o.Stream(context.Background(), userRequest("switch"), collectEmit(&chunks))
	require.NoError(t, err)
	require.Equal(t, []string{fallbackMessage}, chunks)
	require.Zero(t, calls)
}

func TestStreamInterruptedAccumulationNoDispatch(t *testing.T) {
	reg := tools.NewRegistry()
	var calls int
	require.NoError(t, reg.Register(core.ToolSpec{Name: "list_products"}, func(_ context.Context, _ map[string]any) tools.Result {
		calls++
		return tools.Result{Success: true}
	}))
	deltas := []core.StreamDelta{
		{ToolCall: &core.ToolCallFragment{Name: "list_products"}},
		{ToolCall: &core.ToolCallFragment{Arguments: `{"cat`}},
		{Finish: core.FinishStop},
	}
	llm := &fakeLLM{stream: &fakeStream{deltas: deltas}}
	hist := &fakeHistory{}
	o := NewOrchestrator(llm, reg, hist, "")

	var chunks []string
	err := o.Stream(context.Background(), userRequest("products"), collectEmit(&chunks))
	require.NoError(t, err)
	require.Zero(t, calls)
	require.Empty(t, chunks)
}

func TestStreamEOFMidToolCallNoDispatch(t *testing.T) {
	reg := tools.NewRegistry()
	var calls int
	require.NoError(t, reg.Register(core.ToolSpec{Name: "list_products"}, func(_ context.Context, _ map[string]any) tools.Result {
		calls++
		return tools.Result{Success: true}
	}))
	deltas := []core.StreamDelta{
		{ToolCall: &core.ToolCallFragment{Name: "list_products", Arguments: `{}`}},
	}
	llm := &fakeLLM{stream: &fakeStream{deltas: deltas}}
	o := NewOrchestrator(llm, reg, &fakeHistory{}, "")

	var chunks []string
	require.NoError(t, o.Stream(context.Background(), userRequest("products"), collectEmit(&chunks)))
	require.Zero(t, calls)
}

func TestStreamFollowupFailureEmitsFallback(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(core.ToolSpec{Name: "get_personas"}, func(_ context.Context, _ map[string]any) tools.Result {
		return tools.Result{Success: true}
	}))
	llm := &fakeLLM{
		stream:      &fakeStream{deltas: toolDeltas("get_personas", `{}`)},
		completeErr: errors.New("quota exceeded"),
	}
	o := NewOrchestrator(llm, reg, &fakeHistory{}, "")

	var chunks []string
	require.NoError(t, o.Stream(context.Background(), userRequest("personas"), collectEmit(&chunks)))
	require.Equal(t, []string{fallbackMessage}, chunks)
}

func TestStreamSanitizesMarkdown(t *testing.T) {
	llm := &fakeLLM{stream: &fakeStream{deltas: textDeltas("**Bold** and `code`")}}
	o := NewOrchestrator(llm, tools.NewRegistry(), &fakeHistory{}, "")

	var chunks []string
	require.NoError(t, o.Stream(context.Background(), userRequest("hi"), collectEmit(&chunks)))
	joined := strings.Join(chunks, "")
	require.NotContains(t, joined, "**")
	require.NotContains(t, joined, "`")
	require.Contains(t, joined, "Bold")
}

func TestVisibleHistoryHidesToolRows(t *testing.T) {
	hist := &fakeHistory{rows: []models.ConversationMessage{
		{UserID: "user-1", Role: models.RoleUser, Content: "hi"},
		{UserID: "user-1", Role: models.RoleTool, Content: `{"tool":"get_personas"}`, ToolName: "get_personas"},
		{UserID: "user-1", Role: models.RoleAssistant, Content: "hello"},
	}}
	o := NewOrchestrator(&fakeLLM{}, tools.NewRegistry(), hist, "")

	out, err := o.VisibleHistory(context.Background(), "user-1", 50)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, m := range out {
		require.NotEqual(t, models.RoleTool, m.Role)
	}
}

func TestStreamToolCallTraversesEveryState(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(core.ToolSpec{Name: "get_personas"}, func(_ context.Context, _ map[string]any) tools.Result {
		return tools.Result{Success: true}
	}))
	llm := &fakeLLM{
		stream:     &fakeStream{deltas: toolDeltas("get_personas", `{}`)},
		completion: "Here you go.",
	}
	o := NewOrchestrator(llm, reg, &fakeHistory{}, "")

	var states []State
	o.trace = func(s State) { states = append(states, s) }

	var chunks []string
	require.NoError(t, o.Stream(context.Background(), userRequest("personas?"), collectEmit(&chunks)))
	require.Equal(t, []State{
		StateAccumulatingToolCall,
		StateToolCallComplete,
		StateDispatching,
		StateAwaitingFollowup,
		StateStreamingFollowupText,
		StateDone,
	}, states)
}

func TestStreamPlainTextEndsInDone(t *testing.T) {
	llm := &fakeLLM{stream: &fakeStream{deltas: textDeltas("Hello.")}}
	o := NewOrchestrator(llm, tools.NewRegistry(), &fakeHistory{}, "")

	var states []State
	o.trace = func(s State) { states = append(states, s) }

	var chunks []string
	require.NoError(t, o.Stream(context.Background(), userRequest("hi"), collectEmit(&chunks)))
	require.Equal(t, []State{StateDone}, states)
}
