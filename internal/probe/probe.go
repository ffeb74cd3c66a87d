// Package probe reads loosely-shaped JSON payloads by trying an ordered list
// of candidate keys.
package probe

import (
	"encoding/json"
	"strconv"
	"strings"
)

// String returns the first non-empty string from the candidate keys.
// Supports dot-path navigation for nested maps.
func String(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := Path(m, k); v != nil {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// Number returns the first candidate that parses as a number.
func Number(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := Float(Path(m, k)); ok {
			return f, true
		}
	}
	return 0, false
}

// Any returns the first non-nil value from the candidate keys.
func Any(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v := Path(m, k); v != nil {
			return v
		}
	}
	return nil
}

// Path navigates a dot-separated key into nested maps.
func Path(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := mm[p]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// Float converts JSON-decoded numbers and numeric strings such as "$1,204.50".
func Float(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.NewReplacer("$", "", ",", "", " ", "").Replace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Days reads a day count such as 3, 3.0, "3" or "3 days".
func Days(v any) (int, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		end := 0
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		if end == 0 {
			return 0, false
		}
		n, err := strconv.Atoi(s[:end])
		return n, err == nil
	}
	f, ok := Float(v)
	if !ok || f < 0 {
		return 0, false
	}
	return int(f + 0.5), true
}
