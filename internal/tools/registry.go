package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samsaffron/relaychat/internal/config"
	"github.com/samsaffron/relaychat/internal/llm"
)

// Registry holds the tools offered to the model. Registration order is the
// order specs are advertised in.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewDefaultRegistry registers the built-in tools.
func NewDefaultRegistry(jina config.JinaConfig) *Registry {
	r := NewRegistry()
	r.Register(NewRandomNumberTool(nil))
	r.Register(NewDateTimeTool(nil))
	web := NewJinaClient(jina.APIKey, jina.ReaderURL, jina.SearchURL, nil)
	r.Register(NewWebsiteContentTool(web))
	r.Register(NewJinaSearchTool(web))
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Spec().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Specs returns the specs advertised to the vendor.
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Validate checks args against the tool's input schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return ValidateArgs(tool.Spec().Schema, args)
}

// Execute validates args and runs the tool. Empty args are treated as {}.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, userID string) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := ValidateArgs(tool.Spec().Schema, args); err != nil {
		return "", err
	}
	slog.Info("executing tool", "tool", name, "user", userID)
	return tool.Execute(ctx, args, userID)
}
