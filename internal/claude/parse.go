package claude

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON value (object or array) out of a model
// response. Responses often wrap the payload in prose or markdown fences, so
// scan for the outermost delimiter pair and validate what's between them.
func ExtractJSON(response string) (json.RawMessage, error) {
	candidate := stripFences(response)

	objStart := strings.Index(candidate, "{")
	arrStart := strings.Index(candidate, "[")

	start, closer := objStart, "}"
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start, closer = arrStart, "]"
	}
	if start == -1 {
		preview := candidate
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("no JSON value found in response (got %d chars): %q", len(response), preview)
	}

	end := strings.LastIndex(candidate, closer)
	if end <= start {
		return nil, fmt.Errorf("unterminated JSON value in response")
	}

	raw := json.RawMessage(candidate[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("response contains malformed JSON")
	}
	return raw, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
