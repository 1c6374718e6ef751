package usage

import (
	"context"
	"sync"
)

const tokensPerUnit = 1_000_000

// Prices are unit prices per one million tokens.
type Prices struct {
	InputPerMillion  float64 `json:"inputCost" yaml:"input_per_million"`
	OutputPerMillion float64 `json:"outputCost" yaml:"output_per_million"`
}

// Accumulator totals token usage across every nesting level of one request.
// It is shared by pointer and only ever grows.
type Accumulator struct {
	mu           sync.Mutex
	inputTokens  int
	outputTokens int
}

// Add records token counts. Negative values are ignored.
func (a *Accumulator) Add(input, output int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if input > 0 {
		a.inputTokens += input
	}
	if output > 0 {
		a.outputTokens += output
	}
}

// Totals returns the accumulated input and output tokens.
func (a *Accumulator) Totals() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inputTokens, a.outputTokens
}

// Cost is the priced result of an Accumulator.
type Cost struct {
	TotalInputTokens  int     `json:"totalInputTokens"`
	TotalOutputTokens int     `json:"totalOutputTokens"`
	InputCost         float64 `json:"inputCost"`
	OutputCost        float64 `json:"outputCost"`
	TotalCost         float64 `json:"totalCost"`
}

// Compute prices accumulated tokens.
func Compute(acc *Accumulator, prices Prices) Cost {
	in, out := acc.Totals()
	inputCost := float64(in) / tokensPerUnit * prices.InputPerMillion
	outputCost := float64(out) / tokensPerUnit * prices.OutputPerMillion
	return Cost{
		TotalInputTokens:  in,
		TotalOutputTokens: out,
		InputCost:         inputCost,
		OutputCost:        outputCost,
		TotalCost:         inputCost + outputCost,
	}
}

// CostSink persists a user's cumulative spend. AddUserCost must apply delta
// atomically and return the new cumulative total.
type CostSink interface {
	AddUserCost(ctx context.Context, userID string, delta float64) (float64, error)
}
