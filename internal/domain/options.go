package domain

import (
	"encoding/json"
	"fmt"
)

// NormalizeOptions converts a stored options value into an ordered list of strings.
// Stores hand back either a structured array or the array serialized as text;
// both are accepted here so nothing downstream branches on representation.
func NormalizeOptions(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return []string{}, nil
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: option %d is %T, want string", ErrValidation, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return decodeOptions([]byte(v))
	case json.RawMessage:
		return decodeOptions(v)
	case []byte:
		return decodeOptions(v)
	default:
		return nil, fmt.Errorf("%w: unsupported options type %T", ErrValidation, raw)
	}
}

func decodeOptions(data []byte) ([]string, error) {
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		if list == nil {
			list = []string{}
		}
		return list, nil
	}
	// A JSON string holding a serialized array, e.g. "\"[\\\"a\\\",\\\"b\\\"]\"".
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return nil, fmt.Errorf("%w: options are neither an array nor serialized text", ErrValidation)
	}
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		return nil, fmt.Errorf("%w: decode serialized options: %v", ErrValidation, err)
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}
