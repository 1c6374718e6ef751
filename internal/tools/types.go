// Package tools provides the tools the relay can execute on a model's behalf.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samsaffron/relaychat/internal/llm"
)

// ErrUnknownTool is returned when a tool name is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a named, schema-described handler. Execute must return expected
// failures (an unreachable URL, say) as result text; an error means the input
// was unusable or something unexpected happened.
type Tool interface {
	Spec() llm.ToolSpec
	Execute(ctx context.Context, args json.RawMessage, userID string) (string, error)
}

// ToolErrorType provides structured error kinds.
type ToolErrorType string

const (
	ErrInvalidParams   ToolErrorType = "INVALID_PARAMS"
	ErrExecutionFailed ToolErrorType = "EXECUTION_FAILED"
)

// ToolError provides structured error information.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// objectSchema builds a strict object schema from property definitions.
func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        typ,
		"description": description,
	}
}
