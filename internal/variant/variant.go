// Package variant provides the nested key/value map used to persist core state.
//
// Maps round-trip through JSON, so numeric values come back as float64 and
// lists as []interface{}; the accessors here tolerate both the in-memory and
// the decoded representation.
package variant

import (
	"encoding/json"
	"fmt"
)

// Map is a nested key/value structure.
type Map = map[string]interface{}

// String returns a string value
func String(m Map, key string, defaultVal string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return defaultVal
}

// Int returns an int value
func Int(m Map, key string, defaultVal int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
	}
	return defaultVal
}

// Float returns a float value
func Float(m Map, key string, defaultVal float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return defaultVal
}

// Bool returns a bool value
func Bool(m Map, key string, defaultVal bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return defaultVal
}

// Sub returns a nested map, or nil if the key is absent or not a map.
func Sub(m Map, key string) Map {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// List returns a list value as []interface{}.
func List(m Map, key string) []interface{} {
	switch v := m[key].(type) {
	case []interface{}:
		return v
	case []Map:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	}
	return nil
}

// Maps returns a list of nested maps, skipping non-map entries.
func Maps(m Map, key string) []Map {
	if v, ok := m[key].([]Map); ok {
		return v
	}
	var out []Map
	for _, item := range List(m, key) {
		if sub, ok := item.(map[string]interface{}); ok {
			out = append(out, sub)
		}
	}
	return out
}

// Strings returns a list of strings.
func Strings(m Map, key string) []string {
	if v, ok := m[key].([]string); ok {
		return v
	}
	var out []string
	for _, item := range List(m, key) {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Ints returns a list of ints.
func Ints(m Map, key string) []int {
	if v, ok := m[key].([]int); ok {
		return v
	}
	var out []int
	for _, item := range List(m, key) {
		switch n := item.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		case int64:
			out = append(out, int(n))
		}
	}
	return out
}

// Float32s returns a list of float32 values.
func Float32s(m Map, key string) []float32 {
	if v, ok := m[key].([]float32); ok {
		return v
	}
	var out []float32
	for _, item := range List(m, key) {
		switch n := item.(type) {
		case float64:
			out = append(out, float32(n))
		case float32:
			out = append(out, n)
		case int:
			out = append(out, float32(n))
		}
	}
	return out
}

// Require checks that all keys are present.
func Require(m Map, keys ...string) error {
	if m == nil {
		return fmt.Errorf("variant map is nil")
	}
	for _, key := range keys {
		if _, ok := m[key]; !ok {
			return fmt.Errorf("missing key %q", key)
		}
	}
	return nil
}

// Normalize round-trips m through JSON so it has the same shape it would
// have after being loaded from disk.
func Normalize(m Map) (Map, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variant map: %w", err)
	}
	var out Map
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variant map: %w", err)
	}
	return out, nil
}
