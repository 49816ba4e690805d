package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the outermost JSON object in s, dropping Markdown code
// fences and any prose around it. It returns s trimmed when no object is found.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// DecodeJSON unmarshals the JSON object embedded in content into v.
func DecodeJSON(content string, v any) error {
	return json.Unmarshal([]byte(ExtractJSON(content)), v)
}
