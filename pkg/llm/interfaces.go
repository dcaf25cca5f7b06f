package llm

import (
	"context"
)

// ImageInput carries raw image bytes for vision requests.
type ImageInput struct {
	Data      []byte
	MediaType string // e.g. "image/jpeg"
}

// LLMClient defines the interface for LLM operations.
// Combines generative (chat completion), vision and embedding capabilities.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse generates a single chat completion response.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// ChatWithTools runs a tool-assisted conversation turn and returns the
	// final assistant text after all tool calls have been executed.
	ChatWithTools(ctx context.Context, req *ChatRequest, executor ToolExecutor) (string, error)

	// DescribeImage sends an image plus instruction prompt to the vision model.
	DescribeImage(ctx context.Context, img ImageInput, prompt string, systemMessage string) (string, error)

	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error)

	// CreateEmbeddings generates embeddings for multiple inputs.
	CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error)

	// GetModel returns the configured chat model name.
	GetModel() string
}

// Ensure both providers implement LLMClient at compile time.
var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
