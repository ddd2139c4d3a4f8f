package planner

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*[ \t]*\r?\n?(.*?)```")
	jsonArrayRe   = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)
	jsonObjectRe  = regexp.MustCompile(`(?s)\{.*\}`)
)

// Extract recovers the structured payload from a raw generation
// response. Attempts, in order: parse the whole response, parse the
// contents of a fenced code block, parse the widest bracketed array,
// parse the widest braced object. The first attempt yielding a JSON
// array or object wins. Scalar-only responses do not count as
// structured data.
func Extract(response string) (interface{}, error) {
	trimmed := strings.TrimSpace(response)

	if v, ok := tryParse(trimmed); ok {
		return v, nil
	}
	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if v, ok := tryParse(strings.TrimSpace(m[1])); ok {
			return v, nil
		}
	}
	if m := jsonArrayRe.FindString(trimmed); m != "" {
		if v, ok := tryParse(m); ok {
			return v, nil
		}
	}
	if m := jsonObjectRe.FindString(trimmed); m != "" {
		if v, ok := tryParse(m); ok {
			return v, nil
		}
	}
	return nil, &ExtractionError{Excerpt: truncateExcerpt(response)}
}

func tryParse(s string) (interface{}, bool) {
	if s == "" {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return v, true
	default:
		return nil, false
	}
}
