package parsers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	errx "github.com/wuxing-advisor/server/internal/core/error"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

// nameKeys are tried in order when a list element is an object.
var nameKeys = []string{"name", "title", "text", "item"}

// ParseItems extracts a list of candidate names from a structured reply.
// The list is read from the first present key of preferred, else from the first
// array-valued field. Elements are normalized to strings: objects yield their
// name/title/text/item field, or their compact JSON when none is present.
// Results beyond limit are dropped when limit > 0.
func ParseItems(content string, limit int, preferred ...string) (items []string, meta Metadata, err error) {
	defer recoverPanic("items_parser", &err)

	meta = Metadata{"parser": "items"}
	content = guardLength("items_parser", content, meta)

	obj, ok := objectText(content)
	if !ok {
		return nil, meta, fmt.Errorf("no JSON object in reply %q: %w", safeSnippet(content), errx.ErrMalformedOutput)
	}
	fields, err := orderedFields(obj)
	if err != nil {
		return nil, meta, fmt.Errorf("decode reply object: %v: %w", err, errx.ErrMalformedOutput)
	}

	list, key := pickList(fields, preferred)
	if list == nil {
		return nil, meta, fmt.Errorf("no list field in reply %q: %w", safeSnippet(obj), errx.ErrMalformedOutput)
	}
	meta["key"] = key

	var elems []json.RawMessage
	if err := json.Unmarshal(list, &elems); err != nil {
		return nil, meta, fmt.Errorf("decode list %q: %v: %w", key, err, errx.ErrMalformedOutput)
	}
	if len(elems) > maxItems {
		meta["records_capped"] = true
		logx.Warn().Str("component", "items_parser").Int("max_items", maxItems).Msg("Item processing capped")
		elems = elems[:maxItems]
	}

	items = make([]string, 0, len(elems))
	for i, el := range elems {
		name, rule := normalizeItem(el)
		if rule != "" {
			meta[fmt.Sprintf("item_%d", i)] = rule
		}
		if name == "" {
			meta.addErr(fmt.Sprintf("empty item at %d", i))
			continue
		}
		if len(name) > maxItemLen {
			meta.addErr(fmt.Sprintf("item too long at %d", i))
			continue
		}
		items = append(items, name)
	}

	if limit > 0 && len(items) > limit {
		meta["truncated_items"] = len(items) - limit
		items = items[:limit]
	}
	return items, meta, nil
}

func pickList(fields []field, preferred []string) (json.RawMessage, string) {
	for _, want := range preferred {
		for _, f := range fields {
			if f.Key == want && isArray(f.Value) {
				return f.Value, f.Key
			}
		}
	}
	for _, f := range fields {
		if isArray(f.Value) {
			return f.Value, f.Key
		}
	}
	return nil, ""
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// normalizeItem returns the display name of one list element and the recovery
// rule used, empty when the element already was a string.
func normalizeItem(raw json.RawMessage) (string, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", "invalid_string"
		}
		return strings.TrimSpace(s), ""
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err == nil {
			for _, k := range nameKeys {
				switch v := obj[k].(type) {
				case string:
					if s := strings.TrimSpace(v); s != "" {
						return s, "field:" + k
					}
				case float64:
					return fmt.Sprint(v), "field:" + k
				}
			}
		}
		return stringify(raw), "serialized"
	case 'n':
		return "", "null"
	default:
		return stringify(raw), "stringified"
	}
}
