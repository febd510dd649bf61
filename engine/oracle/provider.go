package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/compozy/conductor/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel builds the langchaingo model selected by cfg.
func NewModel(cfg *config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMockModel(cfg.Model), nil
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if key := cfg.APIKey.Value(); key != "" {
			opts = append(opts, openai.WithToken(key))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// New builds an LLMOracle from configuration.
func New(cfg *config.Config) (*LLMOracle, error) {
	model, err := NewModel(&cfg.LLM)
	if err != nil {
		return nil, err
	}
	return NewLLMOracle(model,
		WithRetryAttempts(cfg.Engine.OracleRetryAttempts),
		WithRateLimit(cfg.Engine.OracleRequestsPerSecond),
	), nil
}

// MockModel is an offline model with predictable replies. Routing prompts get
// the first listed candidate back as a JSON decision.
type MockModel struct {
	model string
}

func NewMockModel(model string) *MockModel {
	return &MockModel{model: model}
}

func (m *MockModel) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var prompt strings.Builder
	for _, message := range messages {
		if message.Role != llms.ChatMessageTypeHuman && message.Role != llms.ChatMessageTypeSystem {
			continue
		}
		for _, part := range message.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
				prompt.WriteString(" ")
			}
		}
	}
	text := m.reply(strings.TrimSpace(prompt.String()))
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content: text,
			GenerationInfo: map[string]any{
				"TotalTokens": len(strings.Fields(prompt.String())) + len(strings.Fields(text)),
			},
		}},
	}, nil
}

func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *MockModel) reply(prompt string) string {
	if _, rest, ok := strings.Cut(prompt, "Candidates:\n- "); ok {
		id, _, _ := strings.Cut(rest, "\n")
		id, _, _ = strings.Cut(id, " ")
		id = strings.TrimSuffix(id, ":")
		return fmt.Sprintf(`{"next_node_id": %q, "confidence": 0.5, "rationale": "mock picks the first candidate"}`, id)
	}
	if prompt == "" {
		return "Mock agent response: task completed successfully"
	}
	return fmt.Sprintf("Mock response for: %s", prompt)
}
