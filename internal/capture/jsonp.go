package capture

import (
	"encoding/json"
	"regexp"
	"strings"
)

var jsonpRe = regexp.MustCompile(`(?s)[a-zA-Z_][a-zA-Z0-9_]*\s*\(\s*(\{.*\})\s*\)\s*;?`)

// ParseJSONP strips a callbackName({...}) wrapper and decodes the inner
// JSON object. Bare JSON objects pass through unwrapped. A malformed
// wrapper is a no-parse, not an error.
func ParseJSONP(text string) (map[string]any, bool) {
	var inner string
	if m := jsonpRe.FindStringSubmatch(text); m != nil {
		inner = m[1]
	} else {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			inner = trimmed
		} else {
			return nil, false
		}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(inner), &out); err != nil {
		return nil, false
	}
	return out, true
}
