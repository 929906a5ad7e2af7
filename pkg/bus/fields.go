package bus

import (
	"math"
	"strings"
)

// Fields holds the application-defined payload of an update or message.
// Keys may be addressed with dotted paths such as "message.text".
type Fields map[string]any

// Get returns the value stored at path.
func (f Fields) Get(path string) (any, bool) {
	if f == nil || path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var cur any = map[string]any(f)
	for _, part := range parts {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores value at path, creating intermediate objects as needed.
// A non-object value on the path is replaced.
func (f Fields) Set(path string, value any) {
	if f == nil || path == "" {
		return
	}

	parts := strings.Split(path, ".")
	cur := map[string]any(f)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(cur[part])
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// Delete removes the value at path if present.
func (f Fields) Delete(path string) {
	if f == nil || path == "" {
		return
	}

	idx := strings.LastIndex(path, ".")
	parent := map[string]any(f)
	if idx >= 0 {
		v, ok := f.Get(path[:idx])
		if !ok {
			return
		}
		m, ok := asMap(v)
		if !ok {
			return
		}
		parent = m
	}
	delete(parent, path[idx+1:])
}

// String returns the string at path.
func (f Fields) String(path string) (string, bool) {
	v, ok := f.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the integer at path. Float values with no fraction are accepted.
func (f Fields) Int(path string) (int64, bool) {
	v, ok := f.Get(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	case float32:
		if inInt64Range(float64(n)) && float32(int64(n)) == n {
			return int64(n), true
		}
	case float64:
		if inInt64Range(n) && float64(int64(n)) == n {
			return int64(n), true
		}
	}
	return 0, false
}

func inInt64Range(n float64) bool {
	return n >= math.MinInt64 && n < math.MaxInt64
}

// Float returns the number at path as float64.
func (f Fields) Float(path string) (float64, bool) {
	v, ok := f.Get(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := f.Int(path); ok {
		return float64(i), true
	}
	return 0, false
}

// Bool returns the boolean at path.
func (f Fields) Bool(path string) (bool, bool) {
	v, ok := f.Get(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case Fields:
		return map[string]any(m), m != nil
	default:
		return nil, false
	}
}
