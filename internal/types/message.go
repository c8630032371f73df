package types

import "strings"

// SystemContent returns the text of the first message when its role is
// "system". Content given as an array of parts is joined from its text parts.
func SystemContent(messages []Message) (string, bool) {
	if len(messages) == 0 {
		return "", false
	}
	first, ok := messages[0].(map[string]any)
	if !ok {
		return "", false
	}
	if role, _ := first["role"].(string); role != "system" {
		return "", false
	}
	switch c := first["content"].(type) {
	case string:
		return c, true
	case []any:
		var sb strings.Builder
		for _, part := range c {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := p["text"].(string); ok {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(text)
			}
		}
		return sb.String(), true
	default:
		return "", true
	}
}
