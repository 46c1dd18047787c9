package app

import (
	"fmt"

	"github.com/nidhogg/relay/internal/config"
	"github.com/nidhogg/relay/internal/provider"
	"go.uber.org/zap"
)

var providerNames = map[string]string{
	"openai":    "OpenAI",
	"anthropic": "Anthropic",
}

// newProviders registers the primary model as the default provider and
// every fallback after it. Provider IDs are the backend type, suffixed
// when a type repeats.
func newProviders(cfg *config.Config, logger *zap.Logger) (*provider.Router, error) {
	r := provider.NewRouter(logger)
	models := append([]config.ModelConfig{cfg.Model}, cfg.Fallbacks...)
	ids := providerIDs(models)

	for i, mc := range models {
		pc := provider.ProviderConfig{
			ID:          ids[i],
			Type:        mc.Provider,
			Name:        providerNames[mc.Provider],
			Endpoint:    mc.Endpoint,
			APIKey:      mc.APIKey,
			Model:       mc.Name,
			Temperature: mc.Temperature,
			MaxTokens:   mc.MaxTokens,
		}
		switch mc.Provider {
		case "openai":
			r.Register(provider.NewOpenAIProvider(pc, logger))
		case "anthropic":
			r.Register(provider.NewAnthropicProvider(pc, logger))
		default:
			return nil, fmt.Errorf("unknown provider type %q", mc.Provider)
		}
	}
	r.SetDefault(ids[0])
	return r, nil
}

func fallbackIDs(cfg *config.Config) []string {
	models := append([]config.ModelConfig{cfg.Model}, cfg.Fallbacks...)
	return providerIDs(models)[1:]
}

func providerIDs(models []config.ModelConfig) []string {
	seen := make(map[string]int, len(models))
	ids := make([]string, len(models))
	for i, mc := range models {
		seen[mc.Provider]++
		ids[i] = mc.Provider
		if n := seen[mc.Provider]; n > 1 {
			ids[i] = fmt.Sprintf("%s-%d", mc.Provider, n)
		}
	}
	return ids
}
