package summary

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kalambet/minutes/internal/prompt"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "qwen3-30b-a3b-thinking-2507"

// OpenAIConfig configures an OpenAIGenerator.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Prompt  prompt.Prompt
}

// OpenAIGenerator calls an OpenAI-compatible chat completion endpoint with
// the minutes system prompt and the transcript as the user message.
type OpenAIGenerator struct {
	client openai.Client
	model  string
	system string
}

// NewOpenAIGenerator creates a generator from cfg. Extra request options are
// appended after the ones derived from cfg.
func NewOpenAIGenerator(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAIGenerator {
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	system := cfg.Prompt.System
	if system == "" {
		system = prompt.Default().System
	}
	return &OpenAIGenerator{
		client: openai.NewClient(clientOpts...),
		model:  model,
		system: system,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, conversation string) (Minutes, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.system),
			openai.UserMessage(conversation),
		},
	})
	if err != nil {
		return Minutes{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Minutes{}, nil
	}
	msg := resp.Choices[0].Message
	return Minutes{Content: msg.Content, Reasoning: reasoningContent(msg)}, nil
}

// reasoningContent extracts the non-standard reasoning_content field that
// thinking models served behind OpenAI-compatible APIs attach to a message.
func reasoningContent(msg openai.ChatCompletionMessage) string {
	f, ok := msg.JSON.ExtraFields["reasoning_content"]
	if !ok {
		return ""
	}
	raw := f.Raw()
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ""
	}
	return s
}
