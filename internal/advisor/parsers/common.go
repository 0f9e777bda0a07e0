// Package parsers recovers structured values from free-form model replies.
// Each parser attempts a strict parse first and then applies a small, fixed
// set of recovery rules.
package parsers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	errx "github.com/wuxing-advisor/server/internal/core/error"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxItems      = 500        // maximum number of array elements to process
	maxItemLen    = 1024       // longest accepted item after normalization
	maxErrSnippet = 200        // limit error snippet size
)

// Metadata records what recovery steps were applied to a reply.
type Metadata map[string]any

func (m Metadata) addErr(msg string) {
	v, _ := m["parsing_errors"].([]string)
	m["parsing_errors"] = append(v, msg)
}

// Errors lists recovered parsing problems, if any.
func (m Metadata) Errors() []string {
	v, _ := m["parsing_errors"].([]string)
	return v
}

func recoverPanic(component string, err *error) {
	if r := recover(); r != nil {
		logx.Error().Str("component", component).Msgf("Panic recovered: %v", r)
		*err = errx.New(fmt.Errorf("%s panic", component), http.StatusInternalServerError, errx.SystemErrorMessage)
	}
}

func guardLength(component string, content string, meta Metadata) string {
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", component).
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("Content truncated due to size limit")
		meta["truncated"] = true
		return content[:maxContentLen]
	}
	return content
}

// StripFences removes a surrounding markdown code fence such as ```json ... ```.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// TrimQuotes strips one pair of surrounding straight or curly double quotes.
func TrimQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}} {
		if len(s) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			return strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	return s
}

// objectText returns the JSON object in s: the whole string when it already is
// one, else the span from the first '{' to the last '}'.
func objectText(s string) (string, bool) {
	s = StripFences(s)
	if strings.HasPrefix(s, "{") && json.Valid([]byte(s)) {
		return s, true
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

type field struct {
	Key   string
	Value json.RawMessage
}

// orderedFields decodes a JSON object keeping key order.
func orderedFields(obj string) ([]field, error) {
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		fields = append(fields, field{Key: key, Value: raw})
	}
	return fields, nil
}

// stringify renders any JSON value as display text: strings verbatim, lists
// one element per line, everything else as compact JSON.
func stringify(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			lines := make([]string, 0, len(items))
			for _, it := range items {
				if line := stringify(it); line != "" {
					lines = append(lines, line)
				}
			}
			return strings.Join(lines, "\n")
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

func safeSnippet(s string) string {
	if len(s) > maxErrSnippet {
		return s[:maxErrSnippet] + "..."
	}
	return s
}
