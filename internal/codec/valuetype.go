// Package codec implements bidirectional coercion between AAS XSD-typed
// values and OPC UA Variants, plus the canonical value hash used by the
// loop-suppression cache.
package codec

import "fmt"

// ValueType is one of the closed set of XSD types the bridge understands.
// Arrays are represented by wrapping the scalar value in a Go slice; the
// ValueType itself always names the element type.
type ValueType string

const (
	Boolean       ValueType = "xs:boolean"
	Byte          ValueType = "xs:byte"
	UnsignedByte  ValueType = "xs:unsignedByte"
	Short         ValueType = "xs:short"
	UnsignedShort ValueType = "xs:unsignedShort"
	Int           ValueType = "xs:int"
	UnsignedInt   ValueType = "xs:unsignedInt"
	Long          ValueType = "xs:long"
	UnsignedLong  ValueType = "xs:unsignedLong"
	Float         ValueType = "xs:float"
	Double        ValueType = "xs:double"
	String        ValueType = "xs:string"
	DateTime      ValueType = "xs:dateTime"
	Duration      ValueType = "xs:duration"
	Base64Binary  ValueType = "xs:base64Binary"
)

// Supported reports whether v is one of the closed set of XSD types the
// bridge can coerce.
func Supported(v ValueType) bool {
	switch v {
	case Boolean, Byte, UnsignedByte, Short, UnsignedShort, Int, UnsignedInt,
		Long, UnsignedLong, Float, Double, String, DateTime, Duration, Base64Binary:
		return true
	default:
		return false
	}
}

// intRange returns the inclusive bounds of an integer ValueType.
func intRange(v ValueType) (min, max int64, ok bool) {
	switch v {
	case Byte:
		return -128, 127, true
	case UnsignedByte:
		return 0, 255, true
	case Short:
		return -32768, 32767, true
	case UnsignedShort:
		return 0, 65535, true
	case Int:
		return -2147483648, 2147483647, true
	case UnsignedInt:
		return 0, 4294967295, true
	case Long:
		return -9223372036854775808, 9223372036854775807, true
	case UnsignedLong:
		// UnsignedLong's true max (2^64-1) overflows int64; Encode and
		// Decode handle UnsignedLong through toUint64 instead of this range.
		return 0, 9223372036854775807, true
	default:
		return 0, 0, false
	}
}

func isUnsigned(v ValueType) bool {
	switch v {
	case UnsignedByte, UnsignedShort, UnsignedInt, UnsignedLong:
		return true
	default:
		return false
	}
}

func isInteger(v ValueType) bool {
	_, _, ok := intRange(v)
	return ok
}

func (v ValueType) String() string { return string(v) }

func errUnsupported(v ValueType) error {
	return fmt.Errorf("codec: unsupported value type %q", v)
}
