package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Gemini API.
type GeminiProvider struct {
	apiKey string
}

func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	system, contents := buildGeminiContents(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no user content provided")
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req.MaxTokens, defaultMaxTokens)),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if len(req.Tools) > 0 {
		config.Tools = buildGeminiTools(req.Tools)
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		var usage *genai.GenerateContentResponseUsageMetadata
		calls := 0
		for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				return fmt.Errorf("gemini streaming error: %w", err)
			}
			if resp.UsageMetadata != nil {
				usage = resp.UsageMetadata
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Thought {
					continue
				}
				if part.Text != "" {
					events <- Event{Type: EventTextDelta, Text: part.Text}
				}
				if part.FunctionCall != nil {
					// Gemini delivers calls whole; replay them as start, one delta, stop.
					calls++
					id := part.FunctionCall.ID
					if id == "" {
						id = fmt.Sprintf("call_%d", calls)
					}
					args, _ := json.Marshal(part.FunctionCall.Args)
					if part.FunctionCall.Args == nil {
						args = []byte(`{}`)
					}
					events <- Event{Type: EventToolUseStart, ToolID: id, ToolName: part.FunctionCall.Name}
					events <- Event{Type: EventToolInputDelta, PartialJSON: string(args)}
					events <- Event{Type: EventToolUseStop}
				}
			}
		}
		if usage != nil {
			events <- Event{Type: EventMessageStart, InputTokens: int(usage.PromptTokenCount)}
			events <- Event{Type: EventMessageDelta, OutputTokens: int(usage.CandidatesTokenCount)}
		}
		return nil
	}), nil
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 spec.Name,
			Description:          spec.Description,
			ParametersJsonSchema: geminiSchema(spec.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema drops keywords Gemini rejects.
func geminiSchema(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if k == "additionalProperties" || k == "$schema" {
			continue
		}
		out[k] = v
	}
	return out
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	system, rest := splitSystem(messages)
	contents := make([]*genai.Content, 0, len(rest))

	for _, msg := range rest {
		var content *genai.Content
		switch msg.Role {
		case RoleUser, RoleTool:
			content = buildGeminiContent(genai.RoleUser, msg.Parts)
		case RoleAssistant:
			content = buildGeminiContent(genai.RoleModel, msg.Parts)
		}
		if content != nil {
			contents = append(contents, content)
		}
	}

	return system, contents
}

func buildGeminiContent(role string, parts []Part) *genai.Content {
	content := &genai.Content{Role: role}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			var args map[string]any
			_ = json.Unmarshal(toolArguments(part.ToolCall.Arguments), &args)
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   part.ToolCall.ID,
					Name: part.ToolCall.Name,
					Args: args,
				},
			})
		case PartToolResult:
			if part.ToolResult == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       part.ToolResult.ID,
					Name:     part.ToolResult.Name,
					Response: map[string]any{"output": part.ToolResult.Content},
				},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}
