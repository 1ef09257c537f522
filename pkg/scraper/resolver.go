package scraper

import (
	"fmt"
	"math"
)

// Resolver extracts typed, validated settings from a scraper's loosely-typed
// values bag. Values are JSON-shaped (strings, numbers, booleans, lists of
// strings); numbers arrive as float64 after JSON decoding. Providers resolve
// everything they need at construction so that a bad configuration fails
// fast instead of failing on first scrape.
type Resolver struct {
	values map[string]any
}

// NewResolver returns a Resolver over the given values bag. A nil map is
// treated as empty.
func NewResolver(values map[string]any) *Resolver {
	return &Resolver{values: values}
}

// RequireString returns the string at key, failing with MissingKeyError when
// absent and TypeMismatchError when present but not a string.
func (r *Resolver) RequireString(key string) (string, error) {
	v, ok := r.values[key]
	if !ok {
		return "", &MissingKeyError{Key: key}
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeMismatchError{Key: key, Expected: "string", Found: typeName(v)}
	}
	if s == "" {
		return "", &TypeMismatchError{Key: key, Expected: "non-empty string", Found: "empty string"}
	}
	return s, nil
}

// OptionalString returns the string at key, or def when the key is absent.
func (r *Resolver) OptionalString(key, def string) (string, error) {
	if _, ok := r.values[key]; !ok {
		return def, nil
	}
	return r.RequireString(key)
}

// RequireStringList returns the non-empty list of strings at key. A single
// string is accepted and normalized to a one-element list, which keeps
// singular legacy keys working.
func (r *Resolver) RequireStringList(key string) ([]string, error) {
	v, ok := r.values[key]
	if !ok {
		return nil, &MissingKeyError{Key: key}
	}
	return coerceStringList(key, v)
}

// OptionalStringList returns the list of strings at key, or nil when absent.
func (r *Resolver) OptionalStringList(key string) ([]string, error) {
	v, ok := r.values[key]
	if !ok {
		return nil, nil
	}
	return coerceStringList(key, v)
}

// OptionalBool returns the boolean at key, or def when the key is absent.
func (r *Resolver) OptionalBool(key string, def bool) (bool, error) {
	v, ok := r.values[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeMismatchError{Key: key, Expected: "boolean", Found: typeName(v)}
	}
	return b, nil
}

// OptionalInt returns the integer at key, or def when the key is absent.
// JSON numbers are accepted as long as they are integral.
func (r *Resolver) OptionalInt(key string, def int) (int, error) {
	v, ok := r.values[key]
	if !ok {
		return def, nil
	}
	return coerceInt(key, v)
}

// OptionalPositiveInt is OptionalInt with a > 0 range check on the resolved
// value (including the default, so providers cannot ship a broken default).
func (r *Resolver) OptionalPositiveInt(key string, def int) (int, error) {
	n, err := r.OptionalInt(key, def)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, &TypeMismatchError{
			Key:      key,
			Expected: "positive integer",
			Found:    fmt.Sprintf("%d", n),
		}
	}
	return n, nil
}

func coerceStringList(key string, v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil, &TypeMismatchError{Key: key, Expected: "non-empty string or list of strings", Found: "empty string"}
		}
		return []string{t}, nil
	case []string:
		if len(t) == 0 {
			return nil, &TypeMismatchError{Key: key, Expected: "non-empty list of strings", Found: "empty list"}
		}
		return t, nil
	case []any:
		if len(t) == 0 {
			return nil, &TypeMismatchError{Key: key, Expected: "non-empty list of strings", Found: "empty list"}
		}
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, &TypeMismatchError{Key: key, Expected: "list of strings", Found: "list containing " + typeName(e)}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &TypeMismatchError{Key: key, Expected: "string or list of strings", Found: typeName(v)}
	}
}

func coerceInt(key string, v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, &TypeMismatchError{Key: key, Expected: "integer", Found: fmt.Sprintf("%v", t)}
		}
		return int(t), nil
	default:
		return 0, &TypeMismatchError{Key: key, Expected: "integer", Found: typeName(v)}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any, []string:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
