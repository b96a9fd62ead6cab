package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls a single JSON object out of model output. Models wrap
// answers in prose and code fences despite instructions, so extraction tries
// three strategies in order: the whole reply, a fenced block, then the first
// balanced object found by scanning.
func ExtractJSON(out string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	if m := fencedBlockRe.FindStringSubmatch(out); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	if candidate := scanBalancedObject(out); candidate != "" {
		return json.RawMessage(candidate), nil
	}
	return nil, fmt.Errorf("no JSON object found in model output")
}

// scanBalancedObject walks the text tracking brace depth and string state,
// returning the first balanced {...} span that parses as JSON.
func scanBalancedObject(s string) string {
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate
					}
					// Balanced but invalid; try the next opening brace.
					i = len(s)
				}
			}
		}
	}
	return ""
}

// DecodeInto extracts the JSON object in out and unmarshals it into v.
func DecodeInto(out string, v interface{}) error {
	raw, err := ExtractJSON(out)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}
