// Package parser extracts structured data from semi-structured model output.
// Nothing in this package panics or fails on malformed input; callers get
// "nothing found" instead.
package parser

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoJSONObject is returned when text contains no balanced JSON object
var ErrNoJSONObject = errors.New("no JSON object found")

var (
	scorePattern     = regexp.MustCompile(`(?i)compliance[_\s]*score["']?[:\s]*(\d+)`)
	controlIDPattern = regexp.MustCompile(`\b[A-Z]{1,4}(?:\.[A-Z]{2})?[.\-]?\d+(?:[.\-]\d+){0,3}\b`)
)

// ExtractJSONObject returns the first balanced-brace object in text.
// Braces inside JSON strings are ignored.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end, ok := matchBrace(text, start); ok {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return i, true
			}
		}
	}
	return 0, false
}

// DecodeObject extracts the first JSON object in text and unmarshals it into v
func DecodeObject(text string, v interface{}) error {
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return ErrNoJSONObject
	}
	return json.Unmarshal([]byte(raw), v)
}

// Score finds a "compliance score: N" phrase and returns N
func Score(text string) (int, bool) {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ControlIDs returns distinct control-id-like tokens (A.5.1.1, CC6.1, PR.AC-1) in order
// of appearance. Tokens matching an exclude entry, such as a framework name, are skipped.
func ControlIDs(text string, exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[squash(e)] = true
	}

	seen := make(map[string]bool)
	ids := []string{}
	for _, token := range controlIDPattern.FindAllString(text, -1) {
		if seen[token] || skip[squash(token)] {
			continue
		}
		seen[token] = true
		ids = append(ids, token)
	}
	return ids
}

// SplitHalves splits ids at the midpoint; the first half is treated as covered
func SplitHalves(ids []string) (first, second []string) {
	mid := len(ids) / 2
	first = append([]string{}, ids[:mid]...)
	second = append([]string{}, ids[mid:]...)
	return first, second
}

// IntValue accepts a JSON number. Strings, even numeric ones, report false.
func IntValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

// StringList accepts a JSON array and keeps its non-empty string elements.
// Anything that is not an array reports false.
func StringList(v interface{}) ([]string, bool) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch s := item.(type) {
		case string:
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		case float64:
			out = append(out, strconv.FormatFloat(s, 'f', -1, 64))
		}
	}
	return out, true
}

func squash(s string) string {
	return strings.ToUpper(strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(s))
}
