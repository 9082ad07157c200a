// Package typeutil coerces loosely typed values, the kind produced by
// decoding model output into map[string]any, into the concrete types the
// stages need. Every helper uses the comma-ok idiom and never panics.
package typeutil

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// SCALARS
// =============================================================================

// SafeMapStringAny asserts value to map[string]any.
func SafeMapStringAny(value any) (map[string]any, bool) {
	if value == nil {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// SafeString asserts value to string.
func SafeString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SafeFloat64 converts numeric values to float64. Numeric strings such as
// "0.85" are accepted too, since models often quote numbers.
// NaN and infinities are rejected.
func SafeFloat64(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// SafeBool converts value to bool. Strings "true", "yes", "approved" and
// their negatives are accepted, case-insensitively.
func SafeBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "approved":
			return true, true
		case "false", "no", "rejected":
			return false, true
		}
	}
	return false, false
}

// =============================================================================
// TEXT
// =============================================================================

// Text renders value as display text. Lists become one item per line and
// maps become "key: value" lines sorted by key. nil is the empty string.
func Text(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		return strings.Join(StringList(v), "\n")
	case []string:
		return strings.Join(StringList(v), "\n")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			if t := Text(v[k]); t != "" {
				lines = append(lines, k+": "+t)
			}
		}
		return strings.Join(lines, "\n")
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)

// StringList converts value into a list of non-empty items. A string is
// split on newlines with bullet and numbering markers removed; a list keeps
// its order with each element rendered by Text.
func StringList(value any) []string {
	var items []string
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		for _, line := range strings.Split(v, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
			if line != "" {
				items = append(items, line)
			}
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
	case []any:
		for _, elem := range v {
			if s := Text(elem); s != "" {
				items = append(items, s)
			}
		}
	default:
		if s := Text(v); s != "" {
			items = append(items, s)
		}
	}
	return items
}

// =============================================================================
// AMOUNTS
// =============================================================================

// Amount patterns, tried in order: "$50,000", "50,000 USD" / "50,000 dollars",
// then a bare number such as "50000" or "2.5 million". The second group
// captures the word right after the number so size words are not dropped.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d+)?)(?:\s*([A-Za-z]+))?`),
	regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)(?:\s*([a-z]+))?\s*(?:USD|EUR|GBP|dollars)\b`),
	bareAmount,
}

var bareAmount = regexp.MustCompile(`^\s*(\d[\d,]*(?:\.\d+)?)(?:\s*([A-Za-z]+))?\s*$`)

// amountScales maps size words and their abbreviations to multipliers.
var amountScales = map[string]float64{
	"k":         1e3,
	"thousand":  1e3,
	"thousands": 1e3,
	"m":         1e6,
	"mm":        1e6,
	"mn":        1e6,
	"mil":       1e6,
	"mio":       1e6,
	"mln":       1e6,
	"million":   1e6,
	"millions":  1e6,
	"b":         1e9,
	"bn":        1e9,
	"billion":   1e9,
	"billions":  1e9,
}

// ParseAmount extracts a monetary amount from free text.
// The first pattern that matches wins; commas are ignored and a size word
// after the number ("2.5 million", "$1.2M", "750k") scales it.
func ParseAmount(s string) (float64, bool) {
	for _, re := range amountPatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		digits := strings.ReplaceAll(m[1], ",", "")
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			continue
		}
		scale, known := amountScales[strings.ToLower(m[2])]
		switch {
		case known:
			v *= scale
		case m[2] != "" && re == bareAmount:
			// "2.5 gazillion" is not an amount.
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// HasDigit reports whether s contains an ASCII digit.
func HasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

// Amount converts a number, or text containing an amount, to float64.
func Amount(value any) (float64, bool) {
	if s, ok := value.(string); ok {
		return ParseAmount(s)
	}
	return SafeFloat64(value)
}

// =============================================================================
// NESTED ACCESS
// =============================================================================

// GetNestedValue walks a dot-separated path through maps and slices.
// Numeric segments index into slices:
//
//	GetNestedValue(resp, "choices.0.message.content")
func GetNestedValue(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	current := any(data)
	for _, key := range splitPath(path) {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// GetNestedString gets a nested string value.
func GetNestedString(data map[string]any, path string) (string, bool) {
	v, ok := GetNestedValue(data, path)
	if !ok {
		return "", false
	}
	return SafeString(v)
}

// splitPath splits a dot-separated path into keys, dropping empty segments.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	result := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			if i > start {
				result = append(result, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		result = append(result, path[start:])
	}
	return result
}
