package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultChatTitle is used whenever a title cannot be generated.
const DefaultChatTitle = "New Chat"

const titlePrompt = "Generate a concise and descriptive title (3-4 words max) for the following conversation. Only return the title and nothing else."

// TitleGenerator names a chat from its first user prompt.
type TitleGenerator struct {
	client *openai.Client
	model  string
}

// NewTitleGenerator returns nil when apiKey is empty; a nil generator always
// yields DefaultChatTitle.
func NewTitleGenerator(apiKey, baseURL, model string) *TitleGenerator {
	if apiKey == "" {
		return nil
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(opts...)
	return &TitleGenerator{client: &client, model: model}
}

// Generate never fails; errors are logged and fall back to DefaultChatTitle.
func (g *TitleGenerator) Generate(ctx context.Context, prompt string) string {
	if g == nil || strings.TrimSpace(prompt) == "" {
		return DefaultChatTitle
	}
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(titlePrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.7),
		MaxTokens:   openai.Int(50),
	})
	if err != nil {
		slog.Warn("title generation failed", "error", err)
		return DefaultChatTitle
	}
	if len(resp.Choices) == 0 {
		return DefaultChatTitle
	}
	title := strings.TrimSpace(resp.Choices[0].Message.Content)
	if title == "" {
		return DefaultChatTitle
	}
	return title
}
