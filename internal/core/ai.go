package core

import "context"

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatMessage is a provider-neutral conversation turn handed to the
// completion service. ToolName is set only for tool-role turns.
type ChatMessage struct {
	Role     string
	Content  string
	ToolName string
}

// ToolSpec declares one callable function to the model. Parameters is a
// JSON-schema-shaped map the provider adapter translates to its own format.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// FinishReason marks why a streamed completion ended.
type FinishReason int

const (
	FinishNone     FinishReason = iota // stream still open
	FinishStop                         // normal end of text
	FinishToolCall                     // model requested a tool invocation
)

// ToolCallFragment is one incremental piece of a tool invocation. Arguments
// may arrive split across several deltas and must be concatenated in order.
type ToolCallFragment struct {
	Name      string
	Arguments string
}

// StreamDelta is one increment of a streamed completion: some content text,
// a tool-call fragment, or a terminal finish signal.
type StreamDelta struct {
	Content  string
	ToolCall *ToolCallFragment
	Finish   FinishReason
}

// ChatStream yields deltas until io.EOF.
type ChatStream interface {
	Recv() (StreamDelta, error)
}

// ChatCompletionService is the model boundary: a streaming primary call with
// tool declarations, and a non-streaming call for the follow-up round-trip.
type ChatCompletionService interface {
	StreamChat(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (ChatStream, error)
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}
