// Package relay turns vendor model streams into the client-facing SSE protocol,
// running requested tools and re-invoking the model in between.
package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/samsaffron/relaychat/internal/usage"
)

// GenericErrorMessage is the only error text clients see for upstream failures.
const GenericErrorMessage = "An error occurred while processing the response"

// Kind is the closed set of relay events.
type Kind string

const (
	KindText         Kind = "text"
	KindToolCall     Kind = "tool_call"
	KindToolPayload  Kind = "tool_payload"
	KindToolResult   Kind = "tool_result"
	KindToolFinished Kind = "tool_finished"
	KindToolError    Kind = "tool_error"
	KindCost         Kind = "cost"
	KindError        Kind = "error"
	KindDone         Kind = "done"
)

// Event is one client-facing frame. Which fields are set depends on Kind.
type Event struct {
	Kind    Kind
	Text    string // text, error
	Tool    string // tool_*
	Payload string // tool_payload
	Result  string // tool_result
	Error   string // tool_error
	Cost    usage.Cost
}

func TextEvent(text string) Event { return Event{Kind: KindText, Text: text} }

func ToolCallEvent(tool string) Event { return Event{Kind: KindToolCall, Tool: tool} }

func ToolPayloadEvent(payload string) Event { return Event{Kind: KindToolPayload, Payload: payload} }

func ToolResultEvent(tool, result string) Event {
	return Event{Kind: KindToolResult, Tool: tool, Result: result}
}

func ToolFinishedEvent(tool string) Event { return Event{Kind: KindToolFinished, Tool: tool} }

func ToolErrorEvent(tool, msg string) Event {
	return Event{Kind: KindToolError, Tool: tool, Error: msg}
}

func CostEvent(cost usage.Cost) Event { return Event{Kind: KindCost, Cost: cost} }

func ErrorEvent() Event { return Event{Kind: KindError, Text: GenericErrorMessage} }

func DoneEvent() Event { return Event{Kind: KindDone} }

var doneData = []byte("[DONE]")

type toolFrame struct {
	Type    Kind    `json:"type"`
	Tool    string  `json:"tool,omitempty"`
	Payload *string `json:"payload,omitempty"`
	Result  *string `json:"result,omitempty"`
	Error   *string `json:"error,omitempty"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// Data renders the frame payload: a JSON string for text, a JSON object for
// everything else, and the literal [DONE] sentinel.
func (e Event) Data() ([]byte, error) {
	switch e.Kind {
	case KindText:
		return json.Marshal(e.Text)
	case KindToolCall, KindToolFinished:
		return json.Marshal(toolFrame{Type: e.Kind, Tool: e.Tool})
	case KindToolPayload:
		return json.Marshal(toolFrame{Type: e.Kind, Payload: &e.Payload})
	case KindToolResult:
		return json.Marshal(toolFrame{Type: e.Kind, Tool: e.Tool, Result: &e.Result})
	case KindToolError:
		return json.Marshal(toolFrame{Type: e.Kind, Tool: e.Tool, Error: &e.Error})
	case KindCost:
		return json.Marshal(e.Cost)
	case KindError:
		msg := e.Text
		if msg == "" {
			msg = GenericErrorMessage
		}
		return json.Marshal(errorFrame{Error: msg})
	case KindDone:
		return doneData, nil
	default:
		return nil, fmt.Errorf("unknown relay event kind %q", e.Kind)
	}
}

// MarshalFrame renders the event as a complete "data: ...\n\n" frame.
func (e Event) MarshalFrame() ([]byte, error) {
	data, err := e.Data()
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

type rawFrame struct {
	Type              Kind     `json:"type"`
	Tool              string   `json:"tool"`
	Payload           string   `json:"payload"`
	Result            string   `json:"result"`
	Error             *string  `json:"error"`
	TotalCost         *float64 `json:"totalCost"`
	TotalInputTokens  int      `json:"totalInputTokens"`
	TotalOutputTokens int      `json:"totalOutputTokens"`
	InputCost         float64  `json:"inputCost"`
	OutputCost        float64  `json:"outputCost"`
}

// ParseData is the inverse of Data: it dispatches a frame payload by shape.
func ParseData(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, doneData) {
		return DoneEvent(), nil
	}
	if len(data) == 0 {
		return Event{}, fmt.Errorf("empty frame")
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return Event{}, fmt.Errorf("decode text frame: %w", err)
		}
		return TextEvent(text), nil
	}

	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	switch raw.Type {
	case KindToolCall:
		return ToolCallEvent(raw.Tool), nil
	case KindToolPayload:
		return ToolPayloadEvent(raw.Payload), nil
	case KindToolResult:
		return ToolResultEvent(raw.Tool, raw.Result), nil
	case KindToolFinished:
		return ToolFinishedEvent(raw.Tool), nil
	case KindToolError:
		msg := ""
		if raw.Error != nil {
			msg = *raw.Error
		}
		return ToolErrorEvent(raw.Tool, msg), nil
	case "":
	default:
		return Event{}, fmt.Errorf("unknown frame type %q", raw.Type)
	}

	switch {
	case raw.TotalCost != nil:
		return CostEvent(usage.Cost{
			TotalInputTokens:  raw.TotalInputTokens,
			TotalOutputTokens: raw.TotalOutputTokens,
			InputCost:         raw.InputCost,
			OutputCost:        raw.OutputCost,
			TotalCost:         *raw.TotalCost,
		}), nil
	case raw.Error != nil:
		return Event{Kind: KindError, Text: *raw.Error}, nil
	}
	return Event{}, fmt.Errorf("unrecognized frame %s", truncateFrame(data))
}

func truncateFrame(data []byte) string {
	const max = 80
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
