// Package jsonutil provides shared JSON helpers: string-backed enum encoding
// and tolerant field lookup for loosely shaped objects.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StringEnum is a constraint for enum types that have a String() method.
type StringEnum interface {
	String() string
}

// MarshalEnum marshals an enum value as its string representation.
func MarshalEnum[T StringEnum](v T) ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalEnum decodes a JSON string and converts it with parse.
func UnmarshalEnum[T StringEnum](data []byte, parse func(string) (T, error)) (T, error) {
	var zero T
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return zero, err
	}
	return parse(s)
}

// ParseEnumError creates a standardized error for invalid enum strings.
func ParseEnumError(enumName, value string) error {
	return fmt.Errorf("unknown %s: %q", enumName, value)
}

// FirstString returns the first key in keys whose value is a non-empty scalar,
// rendered as a string. Keys are matched exactly first, then case-insensitively.
func FirstString(m map[string]any, keys ...string) string {
	if v, ok := firstValue(m, keys); ok {
		return strings.TrimSpace(ToString(v))
	}
	return ""
}

// FirstValue returns the value of the first present key in keys.
func FirstValue(m map[string]any, keys ...string) (any, bool) {
	return firstValue(m, keys)
}

func firstValue(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	for _, k := range keys {
		for mk, v := range m {
			if v != nil && strings.EqualFold(mk, k) {
				return v, true
			}
		}
	}
	return nil, false
}

// ToString converts a decoded JSON value to a string. Whole floats are
// formatted as integers.
func ToString(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ToStrings converts a decoded JSON array (or a single scalar) to a list of
// non-empty strings. Objects inside the array contribute their "text",
// "description" or "criterion" field when present.
func ToStrings(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			var s string
			if obj, ok := item.(map[string]any); ok {
				s = FirstString(obj, "text", "description", "criterion", "title")
			} else {
				s = strings.TrimSpace(ToString(item))
			}
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := strings.TrimSpace(ToString(val)); s != "" {
			return []string{s}
		}
		return nil
	}
}
