package annotator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// extractJSON implements spec.md §4.3's JSON repair ladder: try a
// straight parse, then isolate the outermost {...} span, then apply each
// repair in order, stopping at the first one that parses.
func extractJSON(payload string) (map[string]any, error) {
	if obj, err := parseObject(payload); err == nil {
		return obj, nil
	}

	start := strings.Index(payload, "{")
	if start == -1 {
		return nil, fmt.Errorf("LLM reply is not JSON: %s", truncate(payload, 2000))
	}
	end := strings.LastIndex(payload, "}")
	snippet := strings.TrimSpace(payload[start:])
	if end > start {
		snippet = strings.TrimSpace(payload[start : end+1])
	}

	if obj, err := parseObject(snippet); err == nil {
		return obj, nil
	}

	repairs := []func(string) string{
		stripJSONComments,
		insertMissingCommas,
		removeTrailingCommas,
		appendMissingClosing,
	}

	current := snippet
	var lastErr error
	for _, repair := range repairs {
		repaired := repair(current)
		if repaired == current {
			continue
		}
		if obj, err := parseObject(repaired); err == nil {
			return obj, nil
		} else {
			lastErr = err
		}
		current = repaired
	}

	return nil, fmt.Errorf("LLM reply JSON could not be repaired: %v\nfragment: %s", lastErr, truncate(current, 2000))
}

func parseObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
var lineComment = regexp.MustCompile(`(?m)^\s*//.*$`)

// stripJSONComments removes /* ... */ and // comment lines.
func stripJSONComments(snippet string) string {
	cleaned := blockComment.ReplaceAllString(snippet, "")
	cleaned = lineComment.ReplaceAllString(cleaned, "")
	return cleaned
}

// insertMissingCommas adds a comma at the end of a line when the next
// non-blank line starts with a quote and the current line doesn't already
// end in a comma, colon, or opening bracket.
func insertMissingCommas(snippet string) string {
	lines := strings.Split(snippet, "\n")
	for i := 0; i < len(lines)-1; i++ {
		following := strings.TrimLeft(lines[i+1], " \t")
		if !strings.HasPrefix(following, `"`) {
			continue
		}
		stripped := strings.TrimRight(lines[i], " \t\r")
		if stripped == "" {
			continue
		}
		last := stripped[len(stripped)-1]
		if last == ',' || last == ':' || last == '[' || last == '{' || last == '(' {
			continue
		}
		lines[i] = stripped + "," + lines[i][len(stripped):]
	}
	return strings.Join(lines, "\n")
}

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// removeTrailingCommas strips a comma immediately before a closing brace
// or bracket.
func removeTrailingCommas(snippet string) string {
	return trailingComma.ReplaceAllString(snippet, "$1")
}

// appendMissingClosing balances unmatched opening braces/brackets by
// appending the missing closers.
func appendMissingClosing(snippet string) string {
	var closers []byte
	for _, c := range []byte(snippet) {
		switch c {
		case '{':
			closers = append(closers, '}')
		case '[':
			closers = append(closers, ']')
		case '}', ']':
			if len(closers) > 0 {
				closers = closers[:len(closers)-1]
			}
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		snippet += string(closers[i])
	}
	return snippet
}
