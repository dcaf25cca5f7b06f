package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestParseTextToolCalls(t *testing.T) {
	logger := zap.NewNop()

	t.Run("single tool call", func(t *testing.T) {
		content := `Vou salvar os dados.
<tool_call>{"name": "save_restaurant_info", "arguments": {"restaurant_name": "Boteco da Maria", "city": "São Paulo"}}</tool_call>`

		calls := parseTextToolCalls(content, logger)
		if len(calls) != 1 {
			t.Fatalf("expected 1 tool call, got %d", len(calls))
		}
		if calls[0].Function.Name != "save_restaurant_info" {
			t.Errorf("expected save_restaurant_info, got %s", calls[0].Function.Name)
		}

		var args map[string]any
		if err := json.Unmarshal([]byte(calls[0].Function.Arguments), &args); err != nil {
			t.Fatalf("arguments not valid JSON: %v", err)
		}
		if args["city"] != "São Paulo" {
			t.Errorf("expected city São Paulo, got %v", args["city"])
		}
	})

	t.Run("multiple tool calls get distinct ids", func(t *testing.T) {
		content := `<tool_call>{"name": "run_analysis", "arguments": {}}</tool_call>
<tool_call>{"name": "show_analysis_summary", "arguments": {}}</tool_call>`

		calls := parseTextToolCalls(content, logger)
		if len(calls) != 2 {
			t.Fatalf("expected 2 tool calls, got %d", len(calls))
		}
		if calls[0].ID == calls[1].ID {
			t.Errorf("tool call IDs should be distinct, both %s", calls[0].ID)
		}
	})

	t.Run("malformed json skipped", func(t *testing.T) {
		content := `<tool_call>{not json}</tool_call>`
		calls := parseTextToolCalls(content, logger)
		if len(calls) != 0 {
			t.Errorf("expected 0 tool calls, got %d", len(calls))
		}
	})

	t.Run("plain text has no tool calls", func(t *testing.T) {
		calls := parseTextToolCalls("Olá! Qual o nome do seu restaurante?", logger)
		if len(calls) != 0 {
			t.Errorf("expected 0 tool calls, got %d", len(calls))
		}
	})
}

func TestCleanModelOutput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "strips think block",
			input: "<think>the user wants to register</think>Qual a cidade?",
			want:  "Qual a cidade?",
		},
		{
			name:  "strips tool call markup",
			input: "Salvando...\n<tool_call>{\"name\": \"run_analysis\", \"arguments\": {}}</tool_call>\nPronto.",
			want:  "Salvando...\n\nPronto.",
		},
		{
			name:  "collapses newline runs",
			input: "a\n\n\n\n\nb",
			want:  "a\n\nb",
		},
		{
			name:  "trims whitespace",
			input: "  resposta  ",
			want:  "resposta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelOutput(tt.input); got != tt.want {
				t.Errorf("cleanModelOutput(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuildOpenAIMessages(t *testing.T) {
	c := &Client{}

	messages := []Message{
		{Role: RoleUser, Content: "oi"},
		{Role: RoleAssistant, Content: "olá"},
	}

	result := c.buildOpenAIMessages(messages, "system prompt")
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}
	if result[0].Role != "system" || result[0].Content != "system prompt" {
		t.Errorf("first message should be system prompt, got %+v", result[0])
	}
	if result[2].Role != "assistant" {
		t.Errorf("expected assistant role, got %s", result[2].Role)
	}
}

func TestBuildOpenAITools(t *testing.T) {
	c := &Client{}

	if tools := c.buildOpenAITools(nil); tools != nil {
		t.Errorf("expected nil for empty tool list")
	}

	tools := c.buildOpenAITools(GetOnboardingTools())
	if len(tools) != 11 {
		t.Fatalf("expected 11 tools, got %d", len(tools))
	}
	for _, tool := range tools {
		if tool.Function == nil || tool.Function.Name == "" {
			t.Errorf("tool missing function definition: %+v", tool)
		}
		params, err := json.Marshal(tool.Function.Parameters)
		if err != nil {
			t.Errorf("tool %s parameters not marshalable: %v", tool.Function.Name, err)
		}
		if !strings.Contains(string(params), "properties") {
			t.Errorf("tool %s parameters missing properties: %s", tool.Function.Name, params)
		}
	}
}
