package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// BindJSONValue converts a decoded JSON value into a driver bind value.
// Arrays and objects are stored as their JSON text. Numbers keep int64 when
// they are integral, except on postgres where every number binds as float64
// so a single code path covers INTEGER, REAL and NUMERIC columns.
func BindJSONValue(v any, postgres bool) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case json.Number:
		if postgres {
			f, _ := x.Float64()
			return f
		}
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case float64:
		if postgres {
			return x
		}
		if x == math.Trunc(x) && x >= math.MinInt64 && x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case string:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// CoerceParam converts a query or path parameter string into a typed bind
// value: int64 first, then float64, else the string itself.
func CoerceParam(s string, postgres bool) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if postgres {
			return float64(i)
		}
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// decodeSQLValue converts a scanned driver value into a JSON-shaped value.
// Byte slices and strings that look like JSON documents are decoded back
// into structures, undoing the stringification done on write.
func decodeSQLValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return decodeStringValue(string(x))
	case string:
		return decodeStringValue(x)
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float64:
		return x
	case float32:
		return float64(x)
	case bool:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return x
	}
}

func decodeStringValue(s string) any {
	t := strings.TrimSpace(s)
	if len(t) > 1 {
		switch {
		case t[0] == '{' && t[len(t)-1] == '}',
			t[0] == '[' && t[len(t)-1] == ']':
			var v any
			if err := json.Unmarshal([]byte(t), &v); err == nil {
				return v
			}
		}
	}
	return s
}
