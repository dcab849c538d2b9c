package tools

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/tejulabs/corpora/internal/core"
)

// Result is the structured outcome of one tool dispatch. Handlers never
// surface raw errors to the conversation; failures come back as
// {Success:false, Message} so the chat can continue.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Handler executes one tool call. Arguments may be partial or missing;
// handlers must validate rather than assume presence.
type Handler func(ctx context.Context, args map[string]any) Result

// Registry maps tool names to handlers. Registration is validated up front;
// dispatch treats unknown names as a first-class result, not an error.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	specs    map[string]core.ToolSpec
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: map[string]Handler{},
		specs:    map[string]core.ToolSpec{},
	}
}

func (r *Registry) Register(spec core.ToolSpec, h Handler) error {
	if spec.Name == "" {
		return fmt.Errorf("tool spec has empty name")
	}
	if h == nil {
		return fmt.Errorf("tool %s has nil handler", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[spec.Name]; dup {
		return fmt.Errorf("tool %s registered twice", spec.Name)
	}
	r.handlers[spec.Name] = h
	r.specs[spec.Name] = spec
	return nil
}

// Dispatch routes a parsed call by exact tool name. A panicking handler is
// contained and converted to a failure result.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (res Result) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return Result{Success: false, Message: fmt.Sprintf("unknown tool %q", name)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("tools: handler %s panicked: %v", name, rec)
			res = Result{Success: false, Message: fmt.Sprintf("tool %s failed", name)}
		}
	}()
	return h(ctx, args)
}

// Specs returns the declared tools in stable name order for the model call.
func (r *Registry) Specs() []core.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ToolSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type ctxKey int

const userIDKey ctxKey = iota

// WithUserID attaches the calling user's identity for handlers that act on
// per-user state.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
