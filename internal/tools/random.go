package tools

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/samsaffron/relaychat/internal/llm"
)

const RandomNumberToolName = "generate_random_number"

// RandomNumberTool returns a uniformly chosen number in [min, max].
type RandomNumberTool struct {
	float64 func() float64
}

// NewRandomNumberTool uses src as the [0,1) source; nil means math/rand.
func NewRandomNumberTool(src func() float64) *RandomNumberTool {
	if src == nil {
		src = rand.Float64
	}
	return &RandomNumberTool{float64: src}
}

type randomNumberArgs struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (t *RandomNumberTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        RandomNumberToolName,
		Description: "Generates a random number within a specified range.",
		Schema: objectSchema(map[string]interface{}{
			"min": prop("number", "The minimum value of the range (inclusive)."),
			"max": prop("number", "The maximum value of the range (inclusive)."),
		}, "min", "max"),
	}
}

func (t *RandomNumberTool) Execute(ctx context.Context, args json.RawMessage, userID string) (string, error) {
	var a randomNumberArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "failed to parse arguments: %v", err)
	}
	if a.Min > a.Max {
		a.Min, a.Max = a.Max, a.Min
	}
	n := math.Floor(t.float64()*(a.Max-a.Min+1)) + a.Min
	return strconv.FormatFloat(n, 'f', -1, 64), nil
}
