package llm

import "strings"

func collectTextParts(parts []Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// splitSystem separates system and developer instructions from the
// conversation. Vendors that take the system prompt out of band use this.
func splitSystem(messages []Message) (string, []Message) {
	var systemParts []string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			if text := collectTextParts(msg.Parts); text != "" {
				systemParts = append(systemParts, text)
			}
		default:
			rest = append(rest, msg)
		}
	}
	return strings.Join(systemParts, "\n\n"), rest
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
