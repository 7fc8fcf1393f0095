package llm

import "strings"

// extractJSON tries to extract JSON from a response that might have extra
// text or markdown fences around it.
func extractJSON(text string) string {
	text = stripFences(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start != -1 && end != -1 && end > start {
		return text[start : end+1]
	}

	return text
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)

	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	return strings.TrimSpace(text)
}
