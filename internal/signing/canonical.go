package signing

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Reserved parameter names stamped onto every signed request.
const (
	KeyTimestamp = "timestamp"
	KeyNonce     = "nonce"
	// KeySign is the parameter the outbound hook attaches the signature under.
	KeySign = "sign"

	signKeySegment = "signKey="
)

// Params maps parameter names to values. Values may be strings, integer or float
// kinds, bools, json.Number, or nil.
type Params map[string]any

// FromAny converts a decoded JSON or YAML value into Params. It fails with
// ErrInvalidArgument when v is not a string-keyed mapping.
func FromAny(v any) (Params, error) {
	switch m := v.(type) {
	case Params:
		return m, nil
	case map[string]any:
		return Params(m), nil
	case map[string]string:
		out := make(Params, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, nil
	case map[any]any:
		out := make(Params, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: key %v has type %T", ErrInvalidArgument, k, k)
			}
			out[key] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidArgument, v)
	}
}

// Canonical builds the string fed into the digest: entries sorted by key,
// rendered as "key=value&", blank and nil values skipped, followed by
// "signKey=<signKey>".
func Canonical(params Params, signKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		value, ok := formatValue(params[k])
		if !ok {
			continue
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('&')
	}
	b.WriteString(signKeySegment)
	b.WriteString(signKey)
	return b.String()
}

// formatValue renders v for the canonical string. ok is false for values that
// must be elided: nil, and anything whose rendering is blank after trimming.
func formatValue(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case bool:
		s = strconv.FormatBool(val)
	case int:
		s = strconv.Itoa(val)
	case int8, int16, int32, int64:
		s = strconv.FormatInt(reflect.ValueOf(val).Int(), 10)
	case uint, uint8, uint16, uint32, uint64:
		s = strconv.FormatUint(reflect.ValueOf(val).Uint(), 10)
	case float32:
		s = formatFloat(float64(val), 32)
	case float64:
		s = formatFloat(val, 64)
	case fmt.Stringer:
		s = val.String()
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return "", false
			}
			return formatValue(rv.Elem().Interface())
		}
		s = fmt.Sprint(v)
	}
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// formatFloat renders whole floats without a fractional part, so a timestamp
// decoded from JSON as float64 canonicalizes the same as the original integer.
func formatFloat(f float64, bitSize int) string {
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}

// ParseTimestamp extracts Unix seconds from the value found under KeyTimestamp.
// Integer kinds, whole float64 values, json.Number and decimal strings
// (surrounding whitespace ignored) are accepted. Verify and the signed
// endpoint both rely on it so they agree on what a timestamp is.
func ParseTimestamp(v any) (int64, bool) {
	switch ts := v.(type) {
	case int:
		return int64(ts), true
	case int8:
		return int64(ts), true
	case int16:
		return int64(ts), true
	case int32:
		return int64(ts), true
	case int64:
		return ts, true
	case uint:
		if uint64(ts) > math.MaxInt64 {
			return 0, false
		}
		return int64(ts), true
	case uint8:
		return int64(ts), true
	case uint16:
		return int64(ts), true
	case uint32:
		return int64(ts), true
	case uint64:
		if ts > math.MaxInt64 {
			return 0, false
		}
		return int64(ts), true
	case float64:
		// NaN fails the Trunc comparison
		if ts != math.Trunc(ts) || ts >= math.MaxInt64 || ts < math.MinInt64 {
			return 0, false
		}
		return int64(ts), true
	case json.Number:
		n, err := ts.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
