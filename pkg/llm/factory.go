package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/config"
)

// NewFromConfig creates the chat/vision client for the configured provider.
// Returns LLMClient interface to enable dependency injection of mocks.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	switch cfg.Provider {
	case "openai":
		client, err := NewClient(&Config{
			Endpoint:          cfg.Endpoint,
			Model:             cfg.ChatModel,
			VisionModel:       cfg.VisionModel,
			EmbeddingModel:    cfg.EmbeddingModel,
			APIKey:            cfg.APIKey,
			MaxToolIterations: cfg.MaxToolIterations,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil

	case "anthropic":
		client, err := NewAnthropicClient(cfg.AnthropicAPIKey, cfg.ChatModel, cfg.MaxToolIterations, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewEmbeddingClientFromConfig creates the embedding client. Embeddings always
// go through the OpenAI-compatible endpoint since Anthropic does not offer an
// embeddings API.
func NewEmbeddingClientFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (LLMClient, error) {
	client, err := NewClient(&Config{
		Endpoint:       cfg.Endpoint,
		Model:          cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		APIKey:         cfg.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}
