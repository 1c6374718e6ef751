package client

import (
	"context"
	"errors"
	"io"

	"github.com/samsaffron/relaychat/internal/relay"
)

// Assistant is the message being built from a relay stream.
type Assistant struct {
	Content string `json:"content"`
	// ToolRunning names the tool whose result is pending, empty otherwise.
	ToolRunning string `json:"-"`

	TotalInputTokens  int     `json:"inputTokens"`
	TotalOutputTokens int     `json:"outputTokens"`
	InputCost         float64 `json:"inputCost"`
	OutputCost        float64 `json:"outputCost"`
	TotalCost         float64 `json:"totalCost"`

	// Err is the error frame text, if the server sent one.
	Err string `json:"-"`
}

// Apply folds one event into the message.
func (a *Assistant) Apply(ev relay.Event) {
	switch ev.Kind {
	case relay.KindText:
		a.Content += ev.Text
	case relay.KindToolCall:
		a.Content += "\n\n`Tool call: " + ev.Tool + "`\n\n"
		a.ToolRunning = ev.Tool
	case relay.KindToolPayload:
		a.Content += ev.Payload
	case relay.KindToolResult:
		a.Content += "\n\nResult: " + ev.Result + "\n\n"
		a.ToolRunning = ""
	case relay.KindToolError:
		a.Content += "\n\nTool error: " + ev.Error + "\n\n"
		a.ToolRunning = ""
	case relay.KindToolFinished:
		if a.ToolRunning == ev.Tool {
			a.ToolRunning = ""
		}
	case relay.KindCost:
		a.TotalInputTokens = ev.Cost.TotalInputTokens
		a.TotalOutputTokens = ev.Cost.TotalOutputTokens
		a.InputCost = ev.Cost.InputCost
		a.OutputCost = ev.Cost.OutputCost
		a.TotalCost = ev.Cost.TotalCost
	case relay.KindError:
		a.Err = ev.Text
	}
}

// Consume reads r until [DONE], calling onUpdate (if set) after every event.
// The partially built message is returned alongside any error.
func Consume(ctx context.Context, r io.Reader, onUpdate func(relay.Event, *Assistant)) (*Assistant, error) {
	a := &Assistant{}
	dec := NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return a, err
		}
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return a, nil
		}
		if err != nil {
			return a, err
		}
		a.Apply(ev)
		if onUpdate != nil {
			onUpdate(ev, a)
		}
	}
}
