package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicToolStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[],"stop_reason":null,"usage":{"input_tokens":12,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me check."}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"generate_random_number","input":{}}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"min\":1,"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"max\":6}"}}

event: content_block_stop
data: {"type":"content_block_stop","index":1}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":7}}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicProviderNormalizesStream(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("path = %s", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, anthropicToolStream)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", option.WithBaseURL(srv.URL))
	zero := 0.0
	stream, err := p.Stream(context.Background(), Request{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []Message{
			SystemText("be brief"),
			UserText("roll a die"),
		},
		Tools:       []ToolSpec{{Name: "generate_random_number", Description: "random", Schema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}, "required": []string{"min"}}}},
		Temperature: &zero,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	want := []EventType{
		EventMessageStart, EventTextDelta, EventToolUseStart,
		EventToolInputDelta, EventToolInputDelta, EventToolUseStop, EventMessageDelta,
	}
	if got := eventTypes(events); !sameTypes(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if events[0].InputTokens != 12 || events[6].OutputTokens != 7 {
		t.Fatalf("usage = %+v / %+v", events[0], events[6])
	}
	if events[2].ToolID != "toolu_1" || events[2].ToolName != "generate_random_number" {
		t.Fatalf("tool start = %+v", events[2])
	}
	if events[3].PartialJSON+events[4].PartialJSON != `{"min":1,"max":6}` {
		t.Fatalf("tool input = %q %q", events[3].PartialJSON, events[4].PartialJSON)
	}

	if body["temperature"] != 0.0 {
		t.Fatalf("temperature = %v", body["temperature"])
	}
	if tools, _ := body["tools"].([]any); len(tools) != 1 {
		t.Fatalf("tools = %v", body["tools"])
	}
	if system, _ := body["system"].([]any); len(system) != 1 {
		t.Fatalf("system = %v", body["system"])
	}
}

func TestAnthropicProviderReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("bad", option.WithBaseURL(srv.URL))
	stream, err := p.Stream(context.Background(), Request{Model: "claude-3-5-sonnet-20241022", Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if _, err := drain(t, stream); err == nil {
		t.Fatal("expected stream error")
	}
}

func TestBuildAnthropicMessagesReplaysToolRoundTrip(t *testing.T) {
	system, msgs := buildAnthropicMessages([]Message{
		DeveloperText("Formatting re-enabled\nbe brief"),
		UserText("roll"),
		AssistantToolCall("Rolling.", ToolCall{ID: "toolu_1", Name: "generate_random_number", Arguments: json.RawMessage(`{"min":1,"max":6}`)}),
		ToolResultMessage("toolu_1", "generate_random_number", "4"),
	})
	if system != "Formatting re-enabled\nbe brief" {
		t.Fatalf("system = %q", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if len(msgs[1].Content) != 2 || msgs[1].Content[1].OfToolUse == nil {
		t.Fatalf("assistant blocks = %+v", msgs[1].Content)
	}
	if msgs[2].Content[0].OfToolResult == nil || msgs[2].Content[0].OfToolResult.ToolUseID != "toolu_1" {
		t.Fatalf("tool result block = %+v", msgs[2].Content[0])
	}
}

func TestToolArgumentsFallsBackToEmptyObject(t *testing.T) {
	for _, raw := range []string{"", "{not json"} {
		if got := string(toolArguments(json.RawMessage(raw))); got != "{}" {
			t.Fatalf("toolArguments(%q) = %s", raw, got)
		}
	}
	if got := string(toolArguments(json.RawMessage(`{"a":1}`))); got != `{"a":1}` {
		t.Fatalf("valid args rewritten: %s", got)
	}
}
