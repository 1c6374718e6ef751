package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samsaffron/relaychat/internal/llm"
)

const DateTimeToolName = "get_current_datetime"

// isoMillis matches the ISO-8601 form browsers produce: UTC with milliseconds.
const isoMillis = "2006-01-02T15:04:05.000Z"

type DateTimeTool struct {
	now func() time.Time
}

// NewDateTimeTool uses now as the clock; nil means time.Now.
func NewDateTimeTool(now func() time.Time) *DateTimeTool {
	if now == nil {
		now = time.Now
	}
	return &DateTimeTool{now: now}
}

func (t *DateTimeTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        DateTimeToolName,
		Description: "Gets the current date and time.",
		Schema:      objectSchema(map[string]interface{}{}),
	}
}

func (t *DateTimeTool) Execute(ctx context.Context, args json.RawMessage, userID string) (string, error) {
	return t.now().UTC().Format(isoMillis), nil
}
