package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/samsaffron/relaychat/internal/llm"
	"github.com/samsaffron/relaychat/internal/tools"
	"github.com/samsaffron/relaychat/internal/usage"
)

// DefaultMaxDepth bounds consecutive tool-triggered re-invocations.
const DefaultMaxDepth = 8

// ProviderResolver picks the vendor provider for a model.
type ProviderResolver interface {
	Resolve(model string) (llm.Provider, error)
}

// Options configure an Orchestrator. Tools and CostSink may be nil.
type Options struct {
	Providers    ProviderResolver
	Tools        *tools.Registry
	SystemPrompt string
	MaxDepth     int
	CostSink     usage.CostSink
	Logger       *slog.Logger
}

// Orchestrator drives chat requests through the vendor and the tool registry.
type Orchestrator struct {
	providers    ProviderResolver
	tools        *tools.Registry
	systemPrompt string
	maxDepth     int
	sink         usage.CostSink
	logger       *slog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		providers:    opts.Providers,
		tools:        opts.Tools,
		systemPrompt: opts.SystemPrompt,
		maxDepth:     opts.MaxDepth,
		sink:         opts.CostSink,
		logger:       opts.Logger,
	}
}

// Request is one top-level chat request.
type Request struct {
	UserID    string
	Model     string
	Reasoning bool
	Turns     []Turn
	Files     []File
	Prices    usage.Prices
}

// Run is a started request. Its events are produced lazily by Events.
type Run struct {
	o        *Orchestrator
	ctx      context.Context
	req      Request
	provider llm.Provider
	messages []llm.Message
	acc      *usage.Accumulator

	mu       sync.Mutex
	first    llm.Stream
	consumed bool
	cost     usage.Cost
	calls    int
}

// Start validates the request and opens the level-0 vendor stream. Errors
// returned here happen before any event is produced.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Run, error) {
	messages, err := BuildMessages(o.systemPrompt, req.Reasoning, req.Turns, req.Files)
	if err != nil {
		return nil, err
	}
	if o.providers == nil {
		return nil, fmt.Errorf("%w: no providers configured", llm.ErrUnknownModel)
	}
	provider, err := o.providers.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	r := &Run{
		o:        o,
		ctx:      ctx,
		req:      req,
		provider: provider,
		messages: messages,
		acc:      &usage.Accumulator{},
	}
	stream, err := provider.Stream(ctx, r.request(messages))
	if err != nil {
		return nil, fmt.Errorf("open %s stream: %w", provider.Name(), err)
	}
	r.first = stream
	return r, nil
}

func (r *Run) request(messages []llm.Message) llm.Request {
	req := llm.Request{
		Model:     r.req.Model,
		Messages:  messages,
		Reasoning: r.req.Reasoning,
	}
	if r.o.tools != nil {
		req.Tools = r.o.tools.Specs()
	}
	if !r.req.Reasoning {
		zero := 0.0
		req.Temperature = &zero
	}
	return req
}

// Close releases the level-0 stream if Events was never ranged over.
func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumed || r.first == nil {
		return nil
	}
	r.consumed = true
	return r.first.Close()
}

// Cost returns the finalized cost. It is zero until level 0 has finished.
func (r *Run) Cost() usage.Cost {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cost
}

// Events yields every relay event for the request, ending with the cost
// summary and a single Done. A Run can be ranged over once; stopping early
// closes every open vendor stream.
func (r *Run) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		r.mu.Lock()
		if r.consumed {
			r.mu.Unlock()
			return
		}
		r.consumed = true
		first := r.first
		r.mu.Unlock()

		ok := r.level(first, r.messages, 0, yield)

		// Tokens were spent whether or not the client is still listening.
		cost := r.finalize()
		if !ok {
			return
		}
		if !yield(CostEvent(cost)) {
			return
		}
		yield(DoneEvent())
	}
}

func (r *Run) finalize() usage.Cost {
	cost := usage.Compute(r.acc, r.req.Prices)
	r.mu.Lock()
	r.cost = cost
	r.mu.Unlock()

	if r.o.sink == nil {
		return cost
	}
	ctx := context.WithoutCancel(r.ctx)
	total, err := r.o.sink.AddUserCost(ctx, r.req.UserID, cost.TotalCost)
	if err != nil {
		r.o.logger.Warn("cost update failed", "user", r.req.UserID, "delta", cost.TotalCost, "error", err)
		return cost
	}
	r.o.logger.Debug("cost recorded", "user", r.req.UserID, "delta", cost.TotalCost, "total", total)
	return cost
}

type levelState int

const (
	stateIdle levelState = iota
	stateStreaming
	stateAccumulatingToolCall
	stateAwaitingToolResult
)

func (s levelState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStreaming:
		return "streaming"
	case stateAccumulatingToolCall:
		return "accumulating_tool_call"
	case stateAwaitingToolResult:
		return "awaiting_tool_result"
	default:
		return "unknown"
	}
}

type toolInvocation struct {
	id   string
	name string
	buf  strings.Builder
}

// level consumes one vendor stream. It returns false once the consumer has
// stopped, in which case nothing more may be yielded.
func (r *Run) level(stream llm.Stream, msgs []llm.Message, depth int, yield func(Event) bool) bool {
	defer stream.Close()
	log := r.o.logger.With("depth", depth, "model", r.req.Model)
	log.Debug("relay level start")

	state := stateIdle
	var text strings.Builder
	var call *toolInvocation

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error("upstream stream failed", "state", state, "error", err)
			return yield(ErrorEvent())
		}
		if err := ev.Validate(); err != nil {
			log.Warn("skipping vendor event", "error", err)
			continue
		}
		if state == stateIdle {
			state = stateStreaming
		}

		switch ev.Type {
		case llm.EventMessageStart:
			r.acc.Add(ev.InputTokens, 0)
		case llm.EventMessageDelta:
			r.acc.Add(0, ev.OutputTokens)
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
			if !yield(TextEvent(ev.Text)) {
				return false
			}
		case llm.EventToolUseStart:
			call = &toolInvocation{id: ev.ToolID, name: ev.ToolName}
			state = stateAccumulatingToolCall
			if !yield(ToolCallEvent(ev.ToolName)) {
				return false
			}
		case llm.EventToolInputDelta:
			if call == nil {
				log.Warn("tool input without tool call")
				continue
			}
			call.buf.WriteString(ev.PartialJSON)
			if !yield(ToolPayloadEvent(ev.PartialJSON)) {
				return false
			}
		case llm.EventToolUseStop:
			if call == nil {
				log.Warn("tool stop without tool call")
				continue
			}
			state = stateAwaitingToolResult
			next, ok := r.dispatch(call, text.String(), msgs, depth, yield)
			if !ok {
				return false
			}
			if next != nil {
				msgs = next
			}
			call = nil
			text.Reset()
			state = stateStreaming
		}
	}

	log.Debug("relay level stop", "state", state)
	return true
}

// dispatch runs one completed tool call and, on success, recurses into the
// next nesting level. tool_finished is emitted for every call. It returns the
// conversation including the call and its result when the tool ran.
func (r *Run) dispatch(call *toolInvocation, text string, msgs []llm.Message, depth int, yield func(Event) bool) ([]llm.Message, bool) {
	name := call.name
	finish := func() bool { return yield(ToolFinishedEvent(name)) }

	raw := strings.TrimSpace(call.buf.String())
	if raw == "" {
		raw = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		if err == nil {
			err = errors.New("arguments must be a JSON object")
		}
		if !yield(ToolErrorEvent(name, fmt.Sprintf("invalid arguments for %s: %v", name, err))) {
			return nil, false
		}
		return nil, finish()
	}

	if r.o.tools == nil {
		r.o.logger.Warn("tool requested but no registry configured", "tool", name)
		return nil, finish()
	}
	if _, ok := r.o.tools.Get(name); !ok {
		r.o.logger.Warn("unknown tool requested", "tool", name)
		return nil, finish()
	}

	result, err := r.o.tools.Execute(r.ctx, name, json.RawMessage(raw), r.req.UserID)
	if err != nil {
		if !yield(ToolErrorEvent(name, err.Error())) {
			return nil, false
		}
		return nil, finish()
	}
	if !yield(ToolResultEvent(name, result)) {
		return nil, false
	}

	id := call.id
	if id == "" {
		r.mu.Lock()
		r.calls++
		id = fmt.Sprintf("call_%d", r.calls)
		r.mu.Unlock()
	}
	next := append(slices.Clone(msgs),
		llm.AssistantToolCall(text, llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(raw)}),
		llm.ToolResultMessage(id, name, result),
	)

	if depth+1 > r.o.maxDepth {
		if !yield(ToolErrorEvent(name, "maximum tool depth reached")) {
			return nil, false
		}
		return next, finish()
	}

	stream, err := r.provider.Stream(r.ctx, r.request(next))
	if err != nil {
		r.o.logger.Error("failed to re-invoke vendor", "depth", depth+1, "error", err)
		if !yield(ErrorEvent()) {
			return nil, false
		}
		return next, finish()
	}
	if !r.level(stream, next, depth+1, yield) {
		return nil, false
	}
	return next, finish()
}
