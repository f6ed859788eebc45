package wamp

import (
	"encoding/json"
	"math"
	"strconv"
)

// ID is a WAMP session or request identifier, drawn from [1, 2^53].
type ID uint64

// URI names a realm, procedure or error.
type URI string

// List is a positional argument list.
type List []any

// Dict is a keyword argument or details dictionary.
type Dict map[string]any

// MaxID is the largest identifier that survives a round trip through a
// JSON number.
const MaxID ID = 1 << 53

// AsDict returns v as a Dict when it holds a string-keyed map.
func AsDict(v any) (Dict, bool) {
	switch m := v.(type) {
	case Dict:
		return m, true
	case map[string]any:
		return Dict(m), true
	case map[any]any:
		out := make(Dict, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	}
	return nil, false
}

// AsList returns v as a List when it holds a slice.
func AsList(v any) (List, bool) {
	switch l := v.(type) {
	case List:
		return l, true
	case []any:
		return List(l), true
	case []string:
		out := make(List, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	}
	return nil, false
}

// AsString returns v as a string.
func AsString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case URI:
		return string(s), true
	case []byte:
		return string(s), true
	}
	return "", false
}

// AsInt64 converts the numeric representations produced by the JSON and
// CBOR serializers into an int64.
func AsInt64(v any) (int64, bool) {
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
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case ID:
		return int64(n), uint64(n) <= math.MaxInt64
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return AsInt64(float64(n))
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// AsID converts v into an ID.
func AsID(v any) (ID, bool) {
	i, ok := AsInt64(v)
	if !ok || i < 0 {
		return 0, false
	}
	return ID(i), true
}

// AsBool returns v as a bool.
func AsBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// Truthy reports whether v counts as a positive reply: anything but nil,
// false, zero, the empty string or an empty list or dictionary.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case float64:
		return x != 0
	case float32:
		return x != 0
	}
	if i, ok := AsInt64(v); ok {
		return i != 0
	}
	if l, ok := AsList(v); ok {
		return len(l) > 0
	}
	if d, ok := AsDict(v); ok {
		return len(d) > 0
	}
	return true
}

// String returns the dictionary value under key as a string, or "".
func (d Dict) String(key string) string {
	s, _ := AsString(d[key])
	return s
}
