package fsutil

import (
	"fmt"
	"strings"
)

// Object is a decoded JSON object or YAML mapping with string keys.
type Object map[string]any

// AsObject coerces a decoded value into an Object. YAML mappings with
// non-string keys are accepted by stringifying the keys.
func AsObject(v any) (Object, bool) {
	switch m := v.(type) {
	case Object:
		return m, true
	case map[string]any:
		return Object(m), true
	case map[any]any:
		out := make(Object, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// AsList coerces a decoded value into a list.
func AsList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

// Has reports whether key is present, regardless of its value.
func (o Object) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the value at key when it is a string.
func (o Object) String(key string) (string, bool) {
	s, ok := o[key].(string)
	return s, ok
}

// NonBlank returns the value at key when it is a string with non-space content.
func (o Object) NonBlank(key string) (string, bool) {
	s, ok := o.String(key)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Object returns the nested mapping at key.
func (o Object) Object(key string) (Object, bool) {
	return AsObject(o[key])
}

// Keys returns the object keys in unspecified order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	return keys
}

// StringList converts a decoded list into strings, formatting non-string
// scalars the way they were written.
func StringList(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(it))
	}
	return out
}

// Truthy mirrors the loose presence test used for optional scalar fields:
// nil, false, zero numbers, empty strings and empty collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case Object:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case map[any]any:
		return len(t) > 0
	}
	return true
}
