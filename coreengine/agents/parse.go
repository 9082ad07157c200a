package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/jeeves-cluster-organization/procurement/coreengine/typeutil"
)

var errNoJSONObject = errors.New("no valid JSON object found in response")

// extractAndParseJSON recovers the first JSON object from model output.
// It accepts bare JSON, fenced ```json blocks and objects surrounded by prose.
// Braces inside string literals do not count towards nesting.
func extractAndParseJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errNoJSONObject
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil && result != nil {
		return result, nil
	}

	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
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
			if start != -1 {
				inString = true
			}
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start == -1 {
				continue
			}
			depth--
			if depth == 0 {
				result = nil
				if err := json.Unmarshal([]byte(text[start:i+1]), &result); err == nil && result != nil {
					return result, nil
				}
				start = -1
			}
		}
	}

	return nil, errNoJSONObject
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// =============================================================================
// RESPONSE DECODING
// =============================================================================

// sectionText is free text that the model may return as a string, a list
// or an object.
type sectionText string

// itemList is a list the model may return as a JSON array or as a
// bulleted string.
type itemList []string

// amount is a monetary value the model may return as a number or as text
// like "$50,000" or "$2.5 million". Text without digits decodes to zero;
// text with digits that cannot be read as an amount is a decode error.
type amount float64

// flexFloat is a number the model may quote.
type flexFloat float64

var (
	sectionTextType = reflect.TypeOf(sectionText(""))
	itemListType    = reflect.TypeOf(itemList(nil))
	amountType      = reflect.TypeOf(amount(0))
	flexFloatType   = reflect.TypeOf(flexFloat(0))
)

func responseDecodeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	switch to {
	case sectionTextType:
		return sectionText(typeutil.Text(data)), nil
	case itemListType:
		return itemList(typeutil.StringList(data)), nil
	case amountType:
		v, ok := typeutil.Amount(data)
		if !ok {
			if text, isText := data.(string); isText && typeutil.HasDigit(text) {
				return nil, fmt.Errorf("budget %q is not a recognisable amount", text)
			}
		}
		return amount(v), nil
	case flexFloatType:
		v, ok := typeutil.SafeFloat64(data)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %T %v", data, data)
		}
		return flexFloat(v), nil
	}
	return data, nil
}

// decodeResponse decodes a parsed model response into out. Keys match
// case-insensitively through mapstructure tags.
func decodeResponse(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       responseDecodeHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// hasKey reports whether raw holds a non-null value under any of names,
// ignoring case.
func hasKey(raw map[string]any, names ...string) bool {
	for k, v := range raw {
		if v == nil {
			continue
		}
		for _, name := range names {
			if strings.EqualFold(k, name) {
				return true
			}
		}
	}
	return false
}

func firstNonEmpty(values ...sectionText) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}
