package intent

import (
	"encoding/json"
	"strings"

	"leadpilot/internal/domain"
)

// ExtractJSONObject pulls the first JSON object out of a model completion.
// LLMs wrap JSON in prose and code fences unpredictably, so extraction is
// layered: whole-string parse, then fenced code blocks, then a scan for
// the first balanced brace pair that parses. Returns ErrClassifyParse
// when no candidate yields a JSON object.
func ExtractJSONObject(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, domain.NewDomainError("intent.ExtractJSONObject", domain.ErrClassifyParse, "empty output")
	}

	if obj, ok := tryParseObject(trimmed); ok {
		return obj, nil
	}
	if obj, ok := tryFencedBlocks(trimmed); ok {
		return obj, nil
	}
	if obj, ok := tryBalancedScan(trimmed); ok {
		return obj, nil
	}
	return nil, domain.NewDomainError("intent.ExtractJSONObject", domain.ErrClassifyParse, snippet(trimmed))
}

// tryParseObject accepts s only if it is a complete JSON object.
func tryParseObject(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// tryFencedBlocks parses the contents of each ```...``` block in order.
func tryFencedBlocks(s string) (json.RawMessage, bool) {
	rest := s
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return nil, false
		}
		rest = rest[start+3:]
		// Skip an optional language tag on the opening fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			firstLine := strings.TrimSpace(rest[:nl])
			if firstLine == "json" || firstLine == "JSON" || firstLine == "" {
				rest = rest[nl+1:]
			}
		}
		end := strings.Index(rest, "```")
		if end < 0 {
			return nil, false
		}
		if obj, ok := tryParseObject(rest[:end]); ok {
			return obj, true
		}
		rest = rest[end+3:]
	}
}

// tryBalancedScan finds the first '{' and walks to its matching '}',
// respecting strings and escapes, then validates the slice as JSON.
func tryBalancedScan(s string) (json.RawMessage, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					if obj, ok := tryParseObject(s[start : i+1]); ok {
						return obj, true
					}
					// Malformed candidate; resume at the next brace,
					// which may be nested inside this one.
					next := strings.IndexByte(s[start+1:], '{')
					if next < 0 {
						return nil, false
					}
					start = start + 1 + next
					i = len(s)
				}
			}
		}
		if depth != 0 {
			return nil, false
		}
	}
	return nil, false
}

func snippet(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
