package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tejulabs/corpora/internal/core"
	"github.com/tejulabs/corpora/internal/models"
)

type GeminiChat struct {
	client    *genai.Client
	modelName string
}

func NewGeminiChat(ctx context.Context, apiKey, modelName string) (*GeminiChat, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiChat{client: cl, modelName: modelName}, nil
}

func (g *GeminiChat) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// StreamChat opens a streamed completion with the given tool declarations.
func (g *GeminiChat) StreamChat(ctx context.Context, messages []core.ChatMessage, tools []core.ToolSpec) (core.ChatStream, error) {
	m, history, last, err := g.prepare(messages)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		m.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(tools)}}
	}

	cs := m.StartChat()
	cs.History = history
	return &geminiStream{iter: cs.SendMessageStream(ctx, last...)}, nil
}

// Complete runs a non-streaming completion and returns the joined text parts.
func (g *GeminiChat) Complete(ctx context.Context, messages []core.ChatMessage) (string, error) {
	m, history, last, err := g.prepare(messages)
	if err != nil {
		return "", err
	}

	cs := m.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// prepare splits the neutral transcript into the model's system instruction,
// chat history and the final turn's parts.
func (g *GeminiChat) prepare(messages []core.ChatMessage) (*genai.GenerativeModel, []*genai.Content, []genai.Part, error) {
	m := g.client.GenerativeModel(g.modelName)

	var system strings.Builder
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
		case models.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		case models.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		case models.RoleTool:
			contents = append(contents, &genai.Content{
				Role:  "function",
				Parts: []genai.Part{toFunctionResponse(msg)},
			})
		default:
			return nil, nil, nil, fmt.Errorf("unknown message role %q", msg.Role)
		}
	}
	if system.Len() > 0 {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system.String())},
		}
	}
	if len(contents) == 0 {
		return nil, nil, nil, fmt.Errorf("no user content to send")
	}

	last := contents[len(contents)-1]
	return m, contents[:len(contents)-1], last.Parts, nil
}

func toFunctionResponse(msg core.ChatMessage) genai.FunctionResponse {
	var payload map[string]any
	if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
		payload = map[string]any{"content": msg.Content}
	}
	return genai.FunctionResponse{Name: msg.ToolName, Response: payload}
}

func toFunctionDeclarations(tools []core.ToolSpec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toSchema(t.Parameters),
		})
	}
	return out
}

// toSchema translates a JSON-schema-shaped map into the genai schema type.
// Only the subset the tool registry produces is covered.
func toSchema(params map[string]any) *genai.Schema {
	if len(params) == 0 {
		return nil
	}
	s := &genai.Schema{Type: schemaType(params["type"])}
	if d, ok := params["description"].(string); ok {
		s.Description = d
	}
	if props, ok := params["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				s.Properties[name] = toSchema(sub)
			}
		}
	}
	if items, ok := params["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	switch req := params["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}

func schemaType(v any) genai.Type {
	t, _ := v.(string)
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// geminiStream adapts the SDK iterator to the neutral delta stream. Function
// calls arrive from the SDK as whole parts; they are surfaced as a single
// fragment followed by the finish signal.
type geminiStream struct {
	iter    *genai.GenerateContentResponseIterator
	pending []core.StreamDelta
	done    bool
}

func (s *geminiStream) Recv() (core.StreamDelta, error) {
	for {
		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			return d, nil
		}
		if s.done {
			return core.StreamDelta{}, io.EOF
		}

		resp, err := s.iter.Next()
		if err == iterator.Done {
			s.done = true
			return core.StreamDelta{Finish: core.FinishStop}, nil
		}
		if err != nil {
			return core.StreamDelta{}, fmt.Errorf("gemini stream: %w", err)
		}
		s.enqueue(resp)
	}
}

func (s *geminiStream) enqueue(resp *genai.GenerateContentResponse) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return
	}
	cand := resp.Candidates[0]
	for _, p := range cand.Content.Parts {
		switch part := p.(type) {
		case genai.Text:
			if part != "" {
				s.pending = append(s.pending, core.StreamDelta{Content: string(part)})
			}
		case genai.FunctionCall:
			args, err := json.Marshal(part.Args)
			if err != nil {
				args = []byte("{}")
			}
			s.pending = append(s.pending,
				core.StreamDelta{ToolCall: &core.ToolCallFragment{Name: part.Name, Arguments: string(args)}},
				core.StreamDelta{Finish: core.FinishToolCall},
			)
			s.done = true
		}
	}
	if cand.FinishReason == genai.FinishReasonStop && !s.done {
		s.pending = append(s.pending, core.StreamDelta{Finish: core.FinishStop})
		s.done = true
	}
}

var _ core.ChatCompletionService = (*GeminiChat)(nil)
