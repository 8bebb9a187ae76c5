package llm

// Router keeps every configured provider but sends all traffic to one default.
// There is no runtime failover; switching providers is a config change.

import (
	"context"
	"fmt"
	"sort"

	"kubepulse/internal/agent"
)

// pingPrompt is the probe sent by Ping.
const pingPrompt = "Reply with the single word: pong"

// Router implements agent.LLMProvider by dispatching to a named sub-provider.
type Router struct {
	providers       map[string]agent.LLMProvider
	defaultProvider string
}

// NewRouter creates a Router from a pre-built provider map.
// defaultProvider must be one of the keys in providers.
func NewRouter(providers map[string]agent.LLMProvider, defaultProvider string) (*Router, error) {
	if _, ok := providers[defaultProvider]; !ok {
		return nil, fmt.Errorf("llm router: defaultProvider %q is not configured in providers %v",
			defaultProvider, providerNames(providers))
	}
	return &Router{
		providers:       providers,
		defaultProvider: defaultProvider,
	}, nil
}

// Chat forwards the call to the default provider.
func (r *Router) Chat(ctx context.Context, messages []agent.Message, tools []agent.Tool) (*agent.Message, error) {
	return r.providers[r.defaultProvider].Chat(ctx, messages, tools)
}

// Ping sends a one-message probe through the default provider and returns
// the reply text. It backs the connectivity check of the HTTP API.
func (r *Router) Ping(ctx context.Context) (string, error) {
	resp, err := r.Chat(ctx, []agent.Message{{Type: agent.MessageTypeUser, Content: pingPrompt}}, nil)
	if err != nil {
		return "", fmt.Errorf("llm router: ping %s: %w", r.defaultProvider, err)
	}
	return resp.Content, nil
}

// DefaultProvider returns the name of the currently active provider.
func (r *Router) DefaultProvider() string {
	return r.defaultProvider
}

// Providers returns the configured provider names in sorted order.
func (r *Router) Providers() []string {
	return providerNames(r.providers)
}

func providerNames(m map[string]agent.LLMProvider) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
