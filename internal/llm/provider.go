package llm

import (
	"fmt"
	"strings"

	"github.com/samsaffron/relaychat/internal/config"
)

// Provider names understood by the Router.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderLorem     = "lorem"
)

// ProviderForModel maps a model identifier to the provider that serves it.
func ProviderForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gemini"):
		return ProviderGemini
	case strings.HasPrefix(m, "lorem-"):
		return ProviderLorem
	default:
		return ProviderOpenAI
	}
}

// Router resolves a model to a configured provider.
type Router struct {
	providers map[string]Provider
}

// NewRouter builds providers for every vendor that has credentials. The lorem
// provider needs none and is always available.
func NewRouter(cfg *config.Config) *Router {
	r := &Router{providers: make(map[string]Provider)}
	if cfg.Anthropic.APIKey != "" {
		r.Register(ProviderAnthropic, NewAnthropicProvider(cfg.Anthropic.APIKey))
	}
	if cfg.OpenAI.APIKey != "" {
		r.Register(ProviderOpenAI, NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL))
	}
	if cfg.Gemini.APIKey != "" {
		r.Register(ProviderGemini, NewGeminiProvider(cfg.Gemini.APIKey))
	}
	r.Register(ProviderLorem, NewLoremProvider())
	return r
}

// NewStaticRouter routes every model to p.
func NewStaticRouter(p Provider) *Router {
	r := &Router{providers: make(map[string]Provider)}
	for _, name := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderLorem} {
		r.providers[name] = p
	}
	return r
}

func (r *Router) Register(name string, p Provider) {
	r.providers[name] = p
}

// Resolve returns the provider for model.
func (r *Router) Resolve(model string) (Provider, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: empty model", ErrUnknownModel)
	}
	name := ProviderForModel(model)
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (provider %s not configured)", ErrUnknownModel, model, name)
	}
	return p, nil
}
