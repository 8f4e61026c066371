package entry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Int coerces v to an int. Values decoded from JSON arrive as float64 and
// from YAML as int, so both are accepted alongside numeric strings.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case uint8:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case float32:
		return Int(float64(n))
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

// Bool coerces v to a bool.
func Bool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	default:
		return false, false
	}
}

// String coerces v to a string.
func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// present reports whether key exists with a non-nil value.
func (d Data) present(key string) bool {
	v, ok := d[key]
	return ok && v != nil
}

// Int returns the int stored at key.
func (d Data) Int(key string) (int, bool) {
	if !d.present(key) {
		return 0, false
	}
	return Int(d[key])
}

// IntOr returns the int at key or def.
func (d Data) IntOr(key string, def int) int {
	if v, ok := d.Int(key); ok {
		return v
	}
	return def
}

// Bool returns the bool at key or false.
func (d Data) Bool(key string) bool {
	if !d.present(key) {
		return false
	}
	b, _ := Bool(d[key])
	return b
}

// String returns the string at key or "".
func (d Data) String(key string) string {
	s, _ := String(d[key])
	return s
}
