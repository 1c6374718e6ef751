package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider using the Chat Completions streaming API.
type OpenAIProvider struct {
	client *openai.Client
}

func NewOpenAIProvider(apiKey, baseURL string, opts ...option.RequestOption) *OpenAIProvider {
	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		base = append(base, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(append(base, opts...)...)
	return &OpenAIProvider{client: &client}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	messages := buildOpenAIMessages(req.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("no user content provided")
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.Reasoning {
		params.ReasoningEffort = shared.ReasoningEffortHigh
		params.MaxCompletionTokens = openai.Int(maxTokens(req.MaxTokens, defaultMaxTokens))
	} else {
		params.MaxTokens = openai.Int(maxTokens(req.MaxTokens, defaultMaxTokens))
		if req.Temperature != nil {
			params.Temperature = openai.Float(*req.Temperature)
		}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildOpenAITools(req.Tools)
		// One call per turn keeps tool_use_start/stop strictly sequential.
		params.ParallelToolCalls = openai.Bool(false)
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		open := false
		openIndex := int64(-1)
		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				events <- Event{Type: EventMessageStart, InputTokens: int(chunk.Usage.PromptTokens)}
				events <- Event{Type: EventMessageDelta, OutputTokens: int(chunk.Usage.CompletionTokens)}
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				events <- Event{Type: EventTextDelta, Text: choice.Delta.Content}
			}
			for _, call := range choice.Delta.ToolCalls {
				if call.Function.Name != "" {
					if open && call.Index != openIndex {
						events <- Event{Type: EventToolUseStop}
					}
					open = true
					openIndex = call.Index
					events <- Event{Type: EventToolUseStart, ToolID: call.ID, ToolName: call.Function.Name}
				}
				if call.Function.Arguments != "" {
					events <- Event{Type: EventToolInputDelta, PartialJSON: call.Function.Arguments}
				}
			}
			if choice.FinishReason != "" {
				if open {
					events <- Event{Type: EventToolUseStop}
					open = false
				}
				if choice.FinishReason != "tool_calls" && choice.FinishReason != "stop" {
					slog.Debug("openai: finish reason", "reason", choice.FinishReason)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai streaming error: %w", err)
		}
		return nil
	}), nil
}

// buildOpenAIMessages converts messages to chat completion params. Multiple
// text parts in one turn are joined; tool results become tool messages.
func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(collectTextParts(msg.Parts)))
		case RoleDeveloper:
			out = append(out, openai.DeveloperMessage(collectTextParts(msg.Parts)))
		case RoleUser:
			out = append(out, openai.UserMessage(joinTextParts(msg.Parts)))
		case RoleAssistant:
			out = append(out, buildOpenAIAssistant(msg.Parts))
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					out = append(out, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ID))
				}
			}
		}
	}
	return out
}

func buildOpenAIAssistant(parts []Part) openai.ChatCompletionMessageParamUnion {
	var asst openai.ChatCompletionAssistantMessageParam
	if text := joinTextParts(parts); text != "" {
		asst.Content.OfString = openai.String(text)
	}
	for _, part := range parts {
		if part.Type != PartToolCall || part.ToolCall == nil {
			continue
		}
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: part.ToolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      part.ToolCall.Name,
				Arguments: string(toolArguments(part.ToolCall.Arguments)),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.Schema),
				Strict:      openai.Bool(true),
			},
		})
	}
	return tools
}

func joinTextParts(parts []Part) string {
	var texts []string
	for _, part := range parts {
		if part.Type == PartText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}
