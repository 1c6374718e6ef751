package relay

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/samsaffron/relaychat/internal/llm"
	"github.com/samsaffron/relaychat/internal/usage"
)

func TestEventFrames(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{TextEvent("hi \"there\""), `data: "hi \"there\""` + "\n\n"},
		{ToolCallEvent("jina_search"), `data: {"type":"tool_call","tool":"jina_search"}` + "\n\n"},
		{ToolPayloadEvent(`{"q":`), `data: {"type":"tool_payload","payload":"{\"q\":"}` + "\n\n"},
		{ToolResultEvent("generate_random_number", "4"), `data: {"type":"tool_result","tool":"generate_random_number","result":"4"}` + "\n\n"},
		{ToolFinishedEvent("jina_search"), `data: {"type":"tool_finished","tool":"jina_search"}` + "\n\n"},
		{ToolErrorEvent("x", "boom"), `data: {"type":"tool_error","tool":"x","error":"boom"}` + "\n\n"},
		{ErrorEvent(), `data: {"error":"An error occurred while processing the response"}` + "\n\n"},
		{DoneEvent(), "data: [DONE]\n\n"},
		{
			CostEvent(usage.Cost{TotalInputTokens: 1, TotalOutputTokens: 2, InputCost: 0.5, OutputCost: 0.25, TotalCost: 0.75}),
			`data: {"totalInputTokens":1,"totalOutputTokens":2,"inputCost":0.5,"outputCost":0.25,"totalCost":0.75}` + "\n\n",
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev.Kind), func(t *testing.T) {
			got, err := tt.ev.MarshalFrame()
			if err != nil {
				t.Fatalf("MarshalFrame: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("frame = %q, want %q", got, tt.want)
			}
			parsed, err := ParseData(got[len("data: ") : len(got)-2])
			if err != nil {
				t.Fatalf("ParseData: %v", err)
			}
			if parsed != tt.ev {
				t.Fatalf("parsed = %+v, want %+v", parsed, tt.ev)
			}
		})
	}
}

func TestParseDataRejectsUnknownShapes(t *testing.T) {
	for _, data := range []string{`{"type":"mystery"}`, `{"foo":1}`, `[1,2]`, ``} {
		if _, err := ParseData([]byte(data)); err == nil {
			t.Errorf("ParseData(%q) succeeded, want error", data)
		}
	}
}

func TestWriterSetsSSEHeaders(t *testing.T) {
	p := newFakeProvider(script{events: []llm.Event{textDelta("hey")}})
	run, err := newTestOrchestrator(p, nil).Start(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec := httptest.NewRecorder()
	w := NewWriter(rec, nil)
	if err := w.Serve(run); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("Connection"); got != "keep-alive" {
		t.Fatalf("Connection = %q", got)
	}
	if !rec.Flushed {
		t.Fatal("expected frames to be flushed")
	}
	if w.Frames() != 3 {
		t.Fatalf("frames = %d, want 3", w.Frames())
	}
}

func TestWriterDoneAndCloseAreIdempotent(t *testing.T) {
	buf := &closingBuffer{}
	w := NewWriter(buf, nil)
	for i := 0; i < 3; i++ {
		if err := w.Write(DoneEvent()); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	w.Close()
	w.Close()

	if got := buf.String(); got != "data: [DONE]\n\n" {
		t.Fatalf("body = %q", got)
	}
	if buf.closes != 1 {
		t.Fatalf("closes = %d, want 1", buf.closes)
	}
	if err := w.Write(TextEvent("late")); err != ErrWriterClosed {
		t.Fatalf("err = %v, want ErrWriterClosed", err)
	}
}
