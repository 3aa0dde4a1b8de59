package llm

import (
	"fmt"

	"github.com/fyrsmithlabs/copyd/internal/config"
)

// New creates the configured provider client, wrapped with the configured
// per-call timeout.
func New(cfg config.ProviderConfig) (Client, error) {
	var (
		client Client
		err    error
	)
	switch cfg.Name {
	case config.ProviderAnthropic:
		client, err = NewAnthropicClient(AnthropicConfig{
			APIKey:            cfg.AnthropicAPIKey.Value(),
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			MaxTokens:         cfg.MaxTokens,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	case config.ProviderOpenAI:
		client, err = NewOpenAIClient(OpenAIConfig{
			APIKey:            cfg.OpenAIAPIKey.Value(),
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			MaxTokens:         cfg.MaxTokens,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(client, cfg.Timeout.Duration()), nil
}
