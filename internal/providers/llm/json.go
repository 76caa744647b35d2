package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON cuts the outermost JSON object or array out of a model reply.
// Models like to wrap JSON in prose or code fences.
func ExtractJSON(content string, left, right byte) string {
	start := strings.IndexByte(content, left)
	if start == -1 {
		return ""
	}
	end := strings.LastIndexByte(content[start:], right)
	if end == -1 {
		return ""
	}
	return content[start : start+end+1]
}

// DecodeObject decodes the first JSON object found in content into v.
func DecodeObject(content string, v any) error {
	raw := ExtractJSON(content, '{', '}')
	if raw == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// DecodeArray decodes the first JSON array found in content into v.
func DecodeArray(content string, v any) error {
	raw := ExtractJSON(content, '[', ']')
	if raw == "" {
		return fmt.Errorf("no JSON array found in response")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
