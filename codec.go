package strata

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// Field type tags recorded in the metadata table. A field's tag is
// inferred on first sight and never removed; it drives decoding on
// reads so values round-trip through TEXT storage.
const (
	TypeText     = "text"
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeBoolean  = "boolean"
	TypeDatetime = "datetime"
	TypeBytes    = "bytes"
	TypeJSON     = "json"
)

// inferType maps a live value to its type tag. Nil carries no type
// information and defaults to text.
func inferType(v any) string {
	switch v.(type) {
	case nil, string:
		return TypeText
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger
	case float32, float64:
		return TypeFloat
	case time.Time:
		return TypeDatetime
	case []byte:
		return TypeBytes
	case map[string]any, []any:
		return TypeJSON
	default:
		return TypeJSON
	}
}

// encodeValue renders a live value into its stored form. Columns are
// TEXT on every backend, so everything becomes a string except nil.
func encodeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return Timestamp(x)
	case []byte:
		return hex.EncodeToString(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// decodeValue restores a stored value using its type tag. Values that
// fail to parse are returned as stored, never dropped.
func decodeValue(tag string, v any) any {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		// Backends may hand back native numerics; keep them.
		return v
	}
	switch tag {
	case TypeInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case TypeFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case TypeBoolean:
		return s == "true"
	case TypeDatetime:
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	case TypeBytes:
		if b, err := hex.DecodeString(s); err == nil {
			return b
		}
	case TypeJSON:
		var out any
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
	}
	return s
}
