package codec

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// opcuaEpoch is the OPC UA DateTime epoch: 1601-01-01T00:00:00Z.
var opcuaEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

func variantTypeFor(vt ValueType) opcuaproto.TypeID {
	switch vt {
	case Boolean:
		return opcuaproto.TypeBoolean
	case Byte:
		return opcuaproto.TypeSByte
	case UnsignedByte:
		return opcuaproto.TypeByte
	case Short:
		return opcuaproto.TypeInt16
	case UnsignedShort:
		return opcuaproto.TypeUInt16
	case Int:
		return opcuaproto.TypeInt32
	case UnsignedInt:
		return opcuaproto.TypeUInt32
	case Long:
		return opcuaproto.TypeInt64
	case UnsignedLong:
		return opcuaproto.TypeUInt64
	case Float:
		return opcuaproto.TypeFloat
	case Double:
		return opcuaproto.TypeDouble
	case String, Duration:
		return opcuaproto.TypeString
	case DateTime:
		return opcuaproto.TypeDateTime
	case Base64Binary:
		return opcuaproto.TypeByteString
	default:
		return opcuaproto.TypeNull
	}
}

// Encode coerces an XSD-typed Go value into an OPC UA Variant tagged for
// targetType, per the coercion rules in the range/type table.
func Encode(value any, targetType ValueType) (opcuaproto.Variant, error) {
	if !Supported(targetType) {
		return opcuaproto.Variant{}, errUnsupported(targetType)
	}
	if arr, ok := value.([]any); ok {
		out := make([]any, len(arr))
		for i, el := range arr {
			v, err := encodeScalar(el, targetType)
			if err != nil {
				return opcuaproto.Variant{}, err
			}
			out[i] = v.Value
		}
		return opcuaproto.Variant{Type: variantTypeFor(targetType), IsArray: true, Array: out}, nil
	}
	return encodeScalar(value, targetType)
}

func encodeScalar(value any, targetType ValueType) (opcuaproto.Variant, error) {
	if value == nil {
		return opcuaproto.Variant{}, &NullError{ValueType: targetType}
	}
	tag := variantTypeFor(targetType)

	if isInteger(targetType) {
		if targetType == UnsignedLong {
			u, err := toUint64(value, targetType)
			if err != nil {
				return opcuaproto.Variant{}, err
			}
			return opcuaproto.Variant{Type: tag, Value: u}, nil
		}
		i, err := toInt64(value, targetType)
		if err != nil {
			return opcuaproto.Variant{}, err
		}
		min, max, _ := intRange(targetType)
		if i < min || i > max {
			return opcuaproto.Variant{}, newRangeError(targetType, value)
		}
		return opcuaproto.Variant{Type: tag, Value: i}, nil
	}

	switch targetType {
	case Boolean:
		b, err := toBool(value)
		if err != nil {
			return opcuaproto.Variant{}, err
		}
		return opcuaproto.Variant{Type: tag, Value: b}, nil
	case Float:
		f, err := toFloat64(value)
		if err != nil {
			return opcuaproto.Variant{}, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return opcuaproto.Variant{Type: tag, Value: float32(f)}, nil
		}
		if math.Abs(f) > math.MaxFloat32 {
			return opcuaproto.Variant{}, newRangeError(targetType, value)
		}
		return opcuaproto.Variant{Type: tag, Value: float32(f)}, nil
	case Double:
		f, err := toFloat64(value)
		if err != nil {
			return opcuaproto.Variant{}, err
		}
		return opcuaproto.Variant{Type: tag, Value: f}, nil
	case String:
		s, ok := value.(string)
		if !ok {
			return opcuaproto.Variant{}, newTypeError(targetType, value, "expected string")
		}
		return opcuaproto.Variant{Type: tag, Value: s}, nil
	case DateTime:
		t, err := toTime(value)
		if err != nil {
			return opcuaproto.Variant{}, err
		}
		ticks := t.UTC().Sub(opcuaEpoch)
		if t.Before(opcuaEpoch) {
			return opcuaproto.Variant{}, newRangeError(targetType, value)
		}
		return opcuaproto.Variant{Type: tag, Value: ticks}, nil
	case Duration:
		s, ok := value.(string)
		if !ok {
			if d, ok := value.(time.Duration); ok {
				return opcuaproto.Variant{Type: tag, Value: float64(d.Microseconds()) / 1000.0}, nil
			}
			return opcuaproto.Variant{}, newTypeError(targetType, value, "expected ISO-8601 duration string")
		}
		ms, err := parseISODurationMs(s)
		if err != nil {
			return opcuaproto.Variant{}, newTypeError(targetType, value, err.Error())
		}
		return opcuaproto.Variant{Type: tag, Value: ms}, nil
	case Base64Binary:
		switch b := value.(type) {
		case []byte:
			return opcuaproto.Variant{Type: tag, Value: b}, nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return opcuaproto.Variant{}, newTypeError(targetType, value, "invalid base64")
			}
			return opcuaproto.Variant{Type: tag, Value: raw}, nil
		default:
			return opcuaproto.Variant{}, newTypeError(targetType, value, "expected []byte or base64 string")
		}
	default:
		return opcuaproto.Variant{}, errUnsupported(targetType)
	}
}

// Decode coerces an OPC UA Variant into the Go value for its declared
// targetType.
func Decode(v opcuaproto.Variant, targetType ValueType) (any, error) {
	if !Supported(targetType) {
		return nil, errUnsupported(targetType)
	}
	if v.IsArray {
		out := make([]any, len(v.Array))
		for i, el := range v.Array {
			dv, err := decodeScalar(opcuaproto.Variant{Type: v.Type, Value: el}, targetType)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	}
	return decodeScalar(v, targetType)
}

func decodeScalar(v opcuaproto.Variant, targetType ValueType) (any, error) {
	if v.Value == nil {
		return nil, &NullError{ValueType: targetType}
	}
	if isInteger(targetType) {
		if targetType == UnsignedLong {
			u, err := toUint64(v.Value, targetType)
			if err != nil {
				return nil, err
			}
			return u, nil
		}
		i, err := toInt64(v.Value, targetType)
		if err != nil {
			return nil, err
		}
		min, max, _ := intRange(targetType)
		if i < min || i > max {
			return nil, newRangeError(targetType, v.Value)
		}
		return i, nil
	}
	switch targetType {
	case Boolean:
		return toBool(v.Value)
	case Float:
		f, err := toFloat64(v.Value)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case Double:
		return toFloat64(v.Value)
	case String:
		s, ok := v.Value.(string)
		if !ok {
			return nil, newTypeError(targetType, v.Value, "expected string")
		}
		return s, nil
	case DateTime:
		switch d := v.Value.(type) {
		case time.Duration:
			return opcuaEpoch.Add(d).UTC(), nil
		case time.Time:
			return d.UTC(), nil
		default:
			return nil, newTypeError(targetType, v.Value, "expected OPC UA DateTime ticks")
		}
	case Duration:
		ms, err := toFloat64(v.Value)
		if err != nil {
			return nil, err
		}
		return formatISODurationMs(ms), nil
	case Base64Binary:
		b, ok := v.Value.([]byte)
		if !ok {
			return nil, newTypeError(targetType, v.Value, "expected []byte")
		}
		return b, nil
	default:
		return nil, errUnsupported(targetType)
	}
}

func toBool(value any) (bool, error) {
	switch b := value.(type) {
	case bool:
		return b, nil
	case int:
		return intToBool(int64(b))
	case int64:
		return intToBool(b)
	case float64:
		return intToBool(int64(b))
	default:
		return false, newTypeError(Boolean, value, "expected bool or 0/1")
	}
}

func intToBool(i int64) (bool, error) {
	switch i {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, newTypeError(Boolean, i, "integer must be 0 or 1")
	}
}

func toInt64(value any, vt ValueType) (int64, error) {
	switch n := value.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, newRangeError(vt, value)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, newTypeError(vt, value, "non-integral float")
		}
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, newTypeError(vt, value, "not an integer string")
		}
		return i, nil
	default:
		return 0, newTypeError(vt, value, fmt.Sprintf("unsupported source type %T", value))
	}
}

func toUint64(value any, vt ValueType) (uint64, error) {
	switch n := value.(type) {
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, newRangeError(vt, value)
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, newRangeError(vt, value)
		}
		return uint64(n), nil
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return 0, newTypeError(vt, value, "expected non-negative integral value")
		}
		return uint64(n), nil
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, newTypeError(vt, value, "not an unsigned integer string")
		}
		return u, nil
	default:
		return 0, newTypeError(vt, value, fmt.Sprintf("unsupported source type %T", value))
	}
}

func toFloat64(value any) (float64, error) {
	switch f := value.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	case int64:
		return float64(f), nil
	case string:
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, newTypeError(Double, value, "not a numeric string")
		}
		return v, nil
	default:
		return 0, newTypeError(Double, value, fmt.Sprintf("unsupported source type %T", value))
	}
}

func toTime(value any) (time.Time, error) {
	switch t := value.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, newTypeError(DateTime, value, "not an ISO-8601 timestamp")
		}
		return parsed, nil
	default:
		return time.Time{}, newTypeError(DateTime, value, fmt.Sprintf("unsupported source type %T", value))
	}
}
