package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samsaffron/relaychat/internal/llm"
	"github.com/samsaffron/relaychat/internal/tools"
	"github.com/samsaffron/relaychat/internal/usage"
)

// script is what one vendor call produces: events, then err (or io.EOF).
// A non-nil openErr fails the call before any stream exists.
type script struct {
	events  []llm.Event
	err     error
	openErr error
}

type fakeStream struct {
	events []llm.Event
	err    error
	pos    int

	mu     sync.Mutex
	closes int
}

func (s *fakeStream) Recv() (llm.Event, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.err != nil {
		return llm.Event{}, s.err
	}
	return llm.Event{}, io.EOF
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// fakeProvider replays scripts in order and records every request.
type fakeProvider struct {
	mu       sync.Mutex
	scripts  []script
	requests []llm.Request
	streams  []*fakeStream
}

func newFakeProvider(scripts ...script) *fakeProvider {
	return &fakeProvider{scripts: scripts}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	var s script
	if len(p.scripts) > 0 {
		s = p.scripts[0]
		p.scripts = p.scripts[1:]
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	fs := &fakeStream{events: s.events, err: s.err}
	p.streams = append(p.streams, fs)
	return fs, nil
}

func (p *fakeProvider) assertAllClosedOnce(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.streams {
		if s.closes != 1 {
			t.Errorf("stream %d closed %d times, want 1", i, s.closes)
		}
	}
}

type recordingSink struct {
	mu     sync.Mutex
	users  []string
	deltas []float64
	err    error
}

func (s *recordingSink) AddUserCost(ctx context.Context, userID string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
	s.deltas = append(s.deltas, delta)
	if s.err != nil {
		return 0, s.err
	}
	var total float64
	for _, d := range s.deltas {
		total += d
	}
	return total, nil
}

// closingBuffer records frames and how often it was closed.
type closingBuffer struct {
	bytes.Buffer
	closes int
	// failAfter makes Write fail once this many frames were written (0 = never).
	failAfter int
	writes    int
}

func (b *closingBuffer) Write(p []byte) (int, error) {
	if b.failAfter > 0 && b.writes >= b.failAfter {
		return 0, errors.New("client went away")
	}
	b.writes++
	return b.Buffer.Write(p)
}

func (b *closingBuffer) Close() error {
	b.closes++
	return nil
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func testRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.NewRandomNumberTool(func() float64 { return 0.5 }))
	r.Register(tools.NewDateTimeTool(func() time.Time { return fixedNow }))
	return r
}

var testPrices = usage.Prices{InputPerMillion: 3, OutputPerMillion: 15}

func newTestOrchestrator(p *fakeProvider, sink usage.CostSink) *Orchestrator {
	return New(Options{
		Providers:    llm.NewStaticRouter(p),
		Tools:        testRegistry(),
		SystemPrompt: DefaultSystemPrompt,
		CostSink:     sink,
	})
}

func testRequest() Request {
	return Request{
		UserID: "alice",
		Model:  "gpt-4o-mini-2024-07-18",
		Turns:  []Turn{{Role: "user", Content: "hello"}},
		Prices: testPrices,
	}
}

// serve runs the request through a Writer and returns the decoded events.
func serve(t *testing.T, o *Orchestrator, req Request, buf *closingBuffer) ([]Event, error) {
	t.Helper()
	run, err := o.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	w := NewWriter(buf, nil)
	serveErr := w.Serve(run)
	return decodeFrames(t, buf.String()), serveErr
}

func decodeFrames(t *testing.T, body string) []Event {
	t.Helper()
	var events []Event
	for _, frame := range strings.Split(body, "\n\n") {
		if frame == "" {
			continue
		}
		data, ok := strings.CutPrefix(frame, "data: ")
		if !ok {
			t.Fatalf("frame without data prefix: %q", frame)
		}
		ev, err := ParseData([]byte(data))
		if err != nil {
			t.Fatalf("ParseData(%q): %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}

func kinds(events []Event) []Kind {
	out := make([]Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func count(events []Event, k Kind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func textDelta(s string) llm.Event { return llm.Event{Type: llm.EventTextDelta, Text: s} }

func messageStart(in int) llm.Event { return llm.Event{Type: llm.EventMessageStart, InputTokens: in} }

func messageDelta(out int) llm.Event { return llm.Event{Type: llm.EventMessageDelta, OutputTokens: out} }

func toolStart(id, name string) llm.Event {
	return llm.Event{Type: llm.EventToolUseStart, ToolID: id, ToolName: name}
}

func toolDelta(s string) llm.Event { return llm.Event{Type: llm.EventToolInputDelta, PartialJSON: s} }

func toolStop() llm.Event { return llm.Event{Type: llm.EventToolUseStop} }
