package pipeline

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var errNoObject = errors.New("no JSON object found")

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z]*[ \\t]*\\n?(.*?)```")

// DecodeJSON reads a JSON object out of model output into dst. The text is
// tried as is, then inside a markdown fence, then as the span between the
// first '{' and the last '}'.
func DecodeJSON(raw string, dst any) error {
	for _, stage := range []func(string) (string, bool){parseDirect, stripFences, extractObject} {
		candidate, ok := stage(raw)
		if !ok || !isObject(candidate) {
			continue
		}
		return json.Unmarshal([]byte(candidate), dst)
	}
	return errNoObject
}

func parseDirect(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	return s, s != ""
}

func stripFences(raw string) (string, bool) {
	m := fencePattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	s := strings.TrimSpace(m[1])
	return s, s != ""
}

func extractObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func isObject(s string) bool {
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}
