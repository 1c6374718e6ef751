package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownModel is returned when no configured provider can serve a model.
var ErrUnknownModel = errors.New("unknown model")

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolSpec
	// Reasoning selects the high reasoning effort request shape.
	Reasoning   bool
	MaxTokens   int
	Temperature *float64
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string
	Name    string
	Content string
}

// EventType is the closed set of vendor stream events.
type EventType string

const (
	EventMessageStart   EventType = "message_start"
	EventMessageDelta   EventType = "message_delta"
	EventTextDelta      EventType = "text_delta"
	EventToolUseStart   EventType = "tool_use_start"
	EventToolInputDelta EventType = "tool_input_delta"
	EventToolUseStop    EventType = "tool_use_stop"
)

// Event is one normalized vendor stream event. Which fields are set
// depends on Type.
type Event struct {
	Type         EventType
	Text         string // text_delta
	ToolID       string // tool_use_start
	ToolName     string // tool_use_start
	PartialJSON  string // tool_input_delta
	InputTokens  int    // message_start
	OutputTokens int    // message_delta
}

// Validate rejects events outside the closed set or missing their payload.
func (e Event) Validate() error {
	switch e.Type {
	case EventMessageStart, EventMessageDelta, EventToolInputDelta, EventToolUseStop:
		return nil
	case EventTextDelta:
		if e.Text == "" {
			return fmt.Errorf("text_delta without text")
		}
		return nil
	case EventToolUseStart:
		if e.ToolName == "" {
			return fmt.Errorf("tool_use_start without tool name")
		}
		return nil
	default:
		return fmt.Errorf("unrecognized event type %q", e.Type)
	}
}

func SystemText(text string) Message {
	return Message{
		Role:  RoleSystem,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func DeveloperText(text string) Message {
	return Message{
		Role:  RoleDeveloper,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func UserText(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

// AssistantToolCall builds the assistant turn that precedes a tool result:
// the text streamed so far plus the tool invocation.
func AssistantToolCall(text string, call ToolCall) Message {
	msg := Message{Role: RoleAssistant}
	if text != "" {
		msg.Parts = append(msg.Parts, Part{Type: PartText, Text: text})
	}
	msg.Parts = append(msg.Parts, Part{Type: PartToolCall, ToolCall: &call})
	return msg
}

func ToolResultMessage(id, name, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: content,
			},
		}},
	}
}
