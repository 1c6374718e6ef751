package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samsaffron/relaychat/internal/llm"
)

// ErrInvalidRequest marks requests rejected before any vendor call.
var ErrInvalidRequest = errors.New("invalid chat request")

// DefaultSystemPrompt is sent ahead of every conversation.
const DefaultSystemPrompt = "You are an AI assistant. You are free to answer questions with or without the tools.  You do not need to remind the user\n" +
	"each time you respond that you do not have a tool for the user's question.  When a tool is a good fit for the user's question, you can use the tool.\n" +
	"When using a tool, please let the user know what tool you are using and why.  When you are using the summarize_url tool be sure to include in your\n" +
	"response the URL you are summarizing even if the user provided the url in their message."

// reasoningPrefix re-enables markdown output for reasoning models.
const reasoningPrefix = "Formatting re-enabled\n"

// Turn is one UI conversation entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// File is an uploaded attachment, already read as text.
type File struct {
	Name    string
	Content string
}

// BuildMessages converts UI turns into vendor messages. Consecutive turns with
// the same role are coalesced into one message with several text parts, and
// files are appended to the last user turn.
func BuildMessages(systemPrompt string, reasoning bool, turns []Turn, files []File) ([]llm.Message, error) {
	var out []llm.Message
	if systemPrompt != "" {
		if reasoning {
			out = append(out, llm.DeveloperText(reasoningPrefix+systemPrompt))
		} else {
			out = append(out, llm.SystemText(systemPrompt))
		}
	}

	lastUser := -1
	for i, t := range turns {
		switch llm.Role(t.Role) {
		case llm.RoleUser:
			lastUser = i
		case llm.RoleAssistant:
		default:
			return nil, fmt.Errorf("%w: turn %d has role %q", ErrInvalidRequest, i, t.Role)
		}
	}
	if lastUser < 0 {
		return nil, fmt.Errorf("%w: no user message", ErrInvalidRequest)
	}

	for i, t := range turns {
		content := t.Content
		if i == lastUser && len(files) > 0 {
			content += "\n\n" + formatFiles(files)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		role := llm.Role(t.Role)
		part := llm.Part{Type: llm.PartText, Text: content}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, part)
			continue
		}
		out = append(out, llm.Message{Role: role, Parts: []llm.Part{part}})
	}
	return out, nil
}

func formatFiles(files []File) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "File: %s\nContent:\n%s\n\n", f.Name, f.Content)
	}
	return b.String()
}
