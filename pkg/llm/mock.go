package llm

import (
	"context"
)

// MockLLMClient is a configurable mock for testing LLM functionality.
// Set the function fields to control behavior in tests.
type MockLLMClient struct {
	// GenerateResponseFunc is called when GenerateResponse is invoked.
	// If nil, returns empty string and nil error.
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// ChatWithToolsFunc is called when ChatWithTools is invoked.
	// If nil, returns empty string and nil error.
	ChatWithToolsFunc func(ctx context.Context, req *ChatRequest, executor ToolExecutor) (string, error)

	// DescribeImageFunc is called when DescribeImage is invoked.
	// If nil, returns empty string and nil error.
	DescribeImageFunc func(ctx context.Context, img ImageInput, prompt string, systemMessage string) (string, error)

	// CreateEmbeddingFunc is called when CreateEmbedding is invoked.
	// If nil, returns nil slice and nil error.
	CreateEmbeddingFunc func(ctx context.Context, input string, model string) ([]float32, error)

	// CreateEmbeddingsFunc is called when CreateEmbeddings is invoked.
	// If nil, returns nil slice and nil error.
	CreateEmbeddingsFunc func(ctx context.Context, inputs []string, model string) ([][]float32, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// Call tracking for verification
	GenerateResponseCalls int
	ChatWithToolsCalls    int
	DescribeImageCalls    int
	CreateEmbeddingCalls  int
	CreateEmbeddingsCalls int
}

// NewMockLLMClient creates a new mock with sensible defaults.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Model: "mock-model",
	}
}

// GenerateResponse implements LLMClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error) {
	m.GenerateResponseCalls++
	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature)
	}
	return "", nil
}

// ChatWithTools implements LLMClient.
func (m *MockLLMClient) ChatWithTools(ctx context.Context, req *ChatRequest, executor ToolExecutor) (string, error) {
	m.ChatWithToolsCalls++
	if m.ChatWithToolsFunc != nil {
		return m.ChatWithToolsFunc(ctx, req, executor)
	}
	return "", nil
}

// DescribeImage implements LLMClient.
func (m *MockLLMClient) DescribeImage(ctx context.Context, img ImageInput, prompt string, systemMessage string) (string, error) {
	m.DescribeImageCalls++
	if m.DescribeImageFunc != nil {
		return m.DescribeImageFunc(ctx, img, prompt, systemMessage)
	}
	return "", nil
}

// CreateEmbedding implements LLMClient.
func (m *MockLLMClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	m.CreateEmbeddingCalls++
	if m.CreateEmbeddingFunc != nil {
		return m.CreateEmbeddingFunc(ctx, input, model)
	}
	return nil, nil
}

// CreateEmbeddings implements LLMClient.
func (m *MockLLMClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	m.CreateEmbeddingsCalls++
	if m.CreateEmbeddingsFunc != nil {
		return m.CreateEmbeddingsFunc(ctx, inputs, model)
	}
	return nil, nil
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// Reset clears call tracking counters.
func (m *MockLLMClient) Reset() {
	m.GenerateResponseCalls = 0
	m.ChatWithToolsCalls = 0
	m.DescribeImageCalls = 0
	m.CreateEmbeddingCalls = 0
	m.CreateEmbeddingsCalls = 0
}

// Ensure MockLLMClient implements LLMClient at compile time.
var _ LLMClient = (*MockLLMClient)(nil)

// MockToolExecutor is a configurable mock for testing tool execution.
type MockToolExecutor struct {
	// ExecuteToolFunc is called when ExecuteTool is invoked.
	// If nil, returns a success payload and nil error.
	ExecuteToolFunc func(ctx context.Context, name string, arguments string) (string, error)

	// Call tracking
	ExecuteToolCalls []MockToolCall
}

// MockToolCall records a call to ExecuteTool.
type MockToolCall struct {
	Name      string
	Arguments string
}

// NewMockToolExecutor creates a new mock tool executor.
func NewMockToolExecutor() *MockToolExecutor {
	return &MockToolExecutor{
		ExecuteToolCalls: []MockToolCall{},
	}
}

// ExecuteTool implements ToolExecutor.
func (m *MockToolExecutor) ExecuteTool(ctx context.Context, name string, arguments string) (string, error) {
	m.ExecuteToolCalls = append(m.ExecuteToolCalls, MockToolCall{Name: name, Arguments: arguments})
	if m.ExecuteToolFunc != nil {
		return m.ExecuteToolFunc(ctx, name, arguments)
	}
	return `{"status": "success"}`, nil
}

// Reset clears call tracking.
func (m *MockToolExecutor) Reset() {
	m.ExecuteToolCalls = []MockToolCall{}
}

// Ensure MockToolExecutor implements ToolExecutor at compile time.
var _ ToolExecutor = (*MockToolExecutor)(nil)
