package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// typeTag distinguishes encodings of different Go kinds within the hash
// input so that, e.g., the string "1" and the integer 1 never collide.
type typeTag byte

const (
	tagNull    typeTag = 0x00
	tagBool    typeTag = 0x01
	tagInt     typeTag = 0x02
	tagUint    typeTag = 0x03
	tagFloat32 typeTag = 0x04
	tagFloat64 typeTag = 0xD8
	tagString  typeTag = 0x06
	tagBytes   typeTag = 0x07
	tagTime    typeTag = 0x08
	tagArray   typeTag = 0x09
)

// Hash returns a stable, type-tagged big-endian byte serialization of
// value suitable for equality comparison across encode/decode
// directions: hash(decode(encode(v))) == hash(v) for every supported
// ValueType.
func Hash(value any) []byte {
	h := sha256.New()
	writeHashable(h, value)
	return h.Sum(nil)
}

func writeHashable(w interface{ Write([]byte) (int, error) }, value any) {
	switch v := value.(type) {
	case nil:
		w.Write([]byte{byte(tagNull)})
	case bool:
		b := byte(0)
		if v {
			b = 1
		}
		w.Write([]byte{byte(tagBool), b})
	case int:
		writeInt(w, int64(v))
	case int64:
		writeInt(w, v)
	case uint64:
		writeUint(w, v)
	case float32:
		writeFloat64(w, float64(v))
	case float64:
		writeFloat64(w, v)
	case string:
		writeBytesTagged(w, tagString, []byte(v))
	case []byte:
		writeBytesTagged(w, tagBytes, v)
	case time.Time:
		buf := make([]byte, 9)
		buf[0] = byte(tagTime)
		binary.BigEndian.PutUint64(buf[1:], uint64(v.UTC().UnixNano()))
		w.Write(buf)
	case []any:
		w.Write([]byte{byte(tagArray)})
		length := make([]byte, 4)
		binary.BigEndian.PutUint32(length, uint32(len(v)))
		w.Write(length)
		for _, el := range v {
			writeHashable(w, el)
		}
	default:
		writeBytesTagged(w, tagString, []byte(defaultRepr(value)))
	}
}

func writeInt(w interface{ Write([]byte) (int, error) }, i int64) {
	buf := make([]byte, 9)
	buf[0] = byte(tagInt)
	binary.BigEndian.PutUint64(buf[1:], uint64(i))
	w.Write(buf)
}

func writeUint(w interface{ Write([]byte) (int, error) }, u uint64) {
	buf := make([]byte, 9)
	buf[0] = byte(tagUint)
	binary.BigEndian.PutUint64(buf[1:], u)
	w.Write(buf)
}

func writeFloat64(w interface{ Write([]byte) (int, error) }, f float64) {
	buf := make([]byte, 9)
	buf[0] = byte(tagFloat64)
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(f))
	w.Write(buf)
}

func writeBytesTagged(w interface{ Write([]byte) (int, error) }, tag typeTag, b []byte) {
	w.Write([]byte{byte(tag)})
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(b)))
	w.Write(length)
	w.Write(b)
}

func defaultRepr(value any) string {
	return fmt.Sprintf("%v", value)
}
