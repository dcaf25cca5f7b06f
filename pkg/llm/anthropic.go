package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const anthropicMaxTokens = 4096

// AnthropicClient provides access to the Anthropic Messages API.
// Embeddings are not available on this provider; wire an OpenAI-compatible
// client for embedding work even when chat runs on Anthropic.
type AnthropicClient struct {
	client            *anthropic.Client
	model             string
	maxToolIterations int
	logger            *zap.Logger
}

// NewAnthropicClient creates a new Anthropic Messages API client.
func NewAnthropicClient(apiKey string, model string, maxToolIterations int, logger *zap.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if maxToolIterations < 1 {
		maxToolIterations = 10
	}

	return &AnthropicClient{
		client:            anthropic.NewClient(apiKey),
		model:             model,
		maxToolIterations: maxToolIterations,
		logger:            logger.Named("anthropic"),
	}, nil
}

// GenerateResponse generates a single chat completion response.
func (c *AnthropicClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error) {
	temp := float32(temperature)
	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemMessage,
		MaxTokens:   anthropicMaxTokens,
		Temperature: &temp,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(prompt),
		},
	})
	if err != nil {
		c.logger.Error("Anthropic request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", ClassifyError(err)
	}

	text := firstText(resp.Content)
	if text == "" {
		return "", fmt.Errorf("no text content in response")
	}

	c.logger.Info("Anthropic request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return text, nil
}

// ChatWithTools runs a tool-assisted conversation turn, looping while the
// model keeps requesting tool use and feeding results back.
func (c *AnthropicClient) ChatWithTools(ctx context.Context, req *ChatRequest, executor ToolExecutor) (string, error) {
	messages := buildAnthropicMessages(req.Messages)
	tools := buildAnthropicTools(req.Tools)

	temp := float32(req.Temperature)
	if temp == 0 {
		temp = 0.3
	}

	for iteration := 0; iteration < c.maxToolIterations; iteration++ {
		c.logger.Debug("Chat iteration",
			zap.Int("iteration", iteration),
			zap.Int("message_count", len(messages)))

		resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
			Model:       anthropic.Model(c.model),
			System:      req.SystemPrompt,
			MaxTokens:   anthropicMaxTokens,
			Temperature: &temp,
			Messages:    messages,
			Tools:       tools,
		})
		if err != nil {
			return "", ClassifyError(err)
		}

		if resp.StopReason != anthropic.MessagesStopReasonToolUse {
			return firstText(resp.Content), nil
		}

		// Echo the assistant turn back, then answer every tool_use block.
		messages = append(messages, anthropic.Message{
			Role:    anthropic.RoleAssistant,
			Content: resp.Content,
		})

		var results []anthropic.MessageContent
		for _, block := range resp.Content {
			if block.Type != anthropic.MessagesContentTypeToolUse || block.MessageContentToolUse == nil {
				continue
			}
			use := block.MessageContentToolUse

			result, execErr := executor.ExecuteTool(ctx, use.Name, string(use.Input))
			isError := false
			if execErr != nil {
				result = fmt.Sprintf("Error executing tool: %s", execErr.Error())
				isError = true
			}

			results = append(results, anthropic.NewToolResultMessageContent(use.ID, result, isError))
		}

		if len(results) == 0 {
			return firstText(resp.Content), nil
		}

		messages = append(messages, anthropic.Message{
			Role:    anthropic.RoleUser,
			Content: results,
		})
	}

	return "", fmt.Errorf("exceeded maximum tool iterations (%d)", c.maxToolIterations)
}

// DescribeImage sends an image with an instruction prompt to the model.
func (c *AnthropicClient) DescribeImage(ctx context.Context, img ImageInput, prompt string, systemMessage string) (string, error) {
	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    systemMessage,
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewImageMessageContent(
						anthropic.NewMessageContentSource(anthropic.MessagesContentSourceTypeBase64, img.MediaType, img.Data),
					),
					anthropic.NewTextMessageContent(prompt),
				},
			},
		},
	})
	if err != nil {
		c.logger.Error("Vision request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("image_bytes", len(img.Data)),
			zap.Error(err))
		return "", ClassifyError(err)
	}

	text := firstText(resp.Content)
	if text == "" {
		return "", fmt.Errorf("no text content in response")
	}

	return text, nil
}

// CreateEmbedding is not supported by the Anthropic API.
func (c *AnthropicClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings are not supported by the anthropic provider")
}

// CreateEmbeddings is not supported by the Anthropic API.
func (c *AnthropicClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	return nil, fmt.Errorf("embeddings are not supported by the anthropic provider")
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

func firstText(blocks []anthropic.MessageContent) string {
	for _, block := range blocks {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			return cleanModelOutput(*block.Text)
		}
	}
	return ""
}

func buildAnthropicMessages(messages []Message) []anthropic.Message {
	var result []anthropic.Message
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			result = append(result, anthropic.NewAssistantTextMessage(msg.Content))
		default:
			result = append(result, anthropic.NewUserTextMessage(msg.Content))
		}
	}
	return result
}

func buildAnthropicTools(tools []ToolDefinition) []anthropic.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropic.ToolDefinition, len(tools))
	for i, def := range tools {
		schema, _ := json.Marshal(def.Parameters)
		result[i] = anthropic.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: json.RawMessage(schema),
		}
	}
	return result
}
