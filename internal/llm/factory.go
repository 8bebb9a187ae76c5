package llm

// Only providers listed under llm.providers are registered. A provider with
// an empty apiKey is still registered so the auth failure surfaces on the
// first call rather than as a silent skip at startup.

import (
	"fmt"

	"kubepulse/internal/agent"
	"kubepulse/internal/config"
)

// NewRouterFromConfig builds a Router from the LLM configuration block.
//
// Supported provider names: "openai", "gemini", "anthropic", "mock".
func NewRouterFromConfig(cfg config.LLMConfig) (*Router, error) {
	if cfg.DefaultProvider == "" {
		return nil, fmt.Errorf("llm factory: llm.defaultProvider must be set")
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("llm factory: no providers configured under llm.providers")
	}

	providers := make(map[string]agent.LLMProvider, len(cfg.Providers))
	for name, pcfg := range cfg.Providers {
		p, err := buildProvider(name, pcfg)
		if err != nil {
			return nil, fmt.Errorf("llm factory: failed to build provider %q: %w", name, err)
		}
		providers[name] = p
	}

	return NewRouter(providers, cfg.DefaultProvider)
}

func buildProvider(name string, cfg config.ProviderConfig) (agent.LLMProvider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "gemini":
		return NewGeminiProvider(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider name %q; supported: openai, gemini, anthropic, mock", name)
	}
}
