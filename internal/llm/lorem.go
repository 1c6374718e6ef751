package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"
)

// LoremProvider is an offline provider that streams lorem ipsum text.
// Models are named "lorem-<speed>": lorem-slow, lorem-fast, lorem-instant.
// When the request offers get_current_datetime and no tool has run yet, it
// calls that tool first so the tool loop can be exercised without a vendor.
type LoremProvider struct {
	mu        sync.Mutex
	generator *loremgen.Lorem
}

func NewLoremProvider() *LoremProvider {
	return &LoremProvider{generator: loremgen.New()}
}

func (p *LoremProvider) Name() string {
	return "lorem"
}

func (p *LoremProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	inputTokens := 0
	toolDone := false
	for _, msg := range req.Messages {
		for _, part := range msg.Parts {
			inputTokens += len(strings.Fields(part.Text))
			if part.Type == PartToolResult {
				toolDone = true
			}
		}
	}
	callTool := !toolDone && hasTool(req.Tools, "get_current_datetime")
	words := p.words(20)
	delay := loremDelay(req.Model)

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventMessageStart, InputTokens: inputTokens}

		if callTool {
			events <- Event{Type: EventTextDelta, Text: "Checking the clock. "}
			events <- Event{Type: EventToolUseStart, ToolID: "lorem_call_1", ToolName: "get_current_datetime"}
			events <- Event{Type: EventToolInputDelta, PartialJSON: "{}"}
			events <- Event{Type: EventToolUseStop}
			events <- Event{Type: EventMessageDelta, OutputTokens: 8}
			return nil
		}

		for i, word := range words {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if i > 0 {
				word = " " + word
			}
			events <- Event{Type: EventTextDelta, Text: word}
		}
		events <- Event{Type: EventMessageDelta, OutputTokens: len(words)}
		return nil
	}), nil
}

func (p *LoremProvider) words(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, n)
	for len(out) < n {
		out = append(out, strings.Fields(p.generator.Sentence(5, 10))...)
	}
	return out[:n]
}

func loremDelay(model string) time.Duration {
	switch {
	case strings.Contains(model, "instant"):
		return 0
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

func hasTool(specs []ToolSpec, name string) bool {
	for _, spec := range specs {
		if spec.Name == name {
			return true
		}
	}
	return false
}
