// Copyright 2024 Edgeo SCADA contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcuaproto

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// ErrTruncated is returned by a Decoder read that runs past the end of
// its buffer.
var ErrTruncated = fmt.Errorf("opcuaproto: truncated message")

// opcuaEpochTicks is the number of 100ns ticks between the OPC UA
// DateTime epoch (1601-01-01) and the Unix epoch.
const opcuaEpochTicks = 116444736000000000

// Encoder serializes OPC UA builtin types to their binary wire form,
// little-endian throughout.
type Encoder struct {
	buf *bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: new(bytes.Buffer)}
}

// Bytes returns the bytes written so far.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Write appends raw bytes, for callers assembling an already-encoded body.
func (e *Encoder) Write(p []byte) { e.buf.Write(p) }

func (e *Encoder) WriteBoolean(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

func (e *Encoder) WriteByte(v byte) { e.buf.WriteByte(v) }

func (e *Encoder) WriteSByte(v int8) { e.buf.WriteByte(byte(v)) }

func (e *Encoder) WriteUInt16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteInt16(v int16) { e.WriteUInt16(uint16(v)) }

func (e *Encoder) WriteUInt32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteInt32(v int32) { e.WriteUInt32(uint32(v)) }

func (e *Encoder) WriteUInt64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) WriteInt64(v int64) { e.WriteUInt64(uint64(v)) }

func (e *Encoder) WriteFloat(v float32) { e.WriteUInt32(math.Float32bits(v)) }

func (e *Encoder) WriteDouble(v float64) { e.WriteUInt64(math.Float64bits(v)) }

// WriteString writes a length-prefixed UTF-8 string; an empty string is
// encoded as the null form (length -1), matching OPC UA's String encoding.
func (e *Encoder) WriteString(v string) {
	if v == "" {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(v)))
	e.buf.WriteString(v)
}

// WriteByteString writes a length-prefixed byte string; nil encodes as -1.
func (e *Encoder) WriteByteString(v []byte) {
	if v == nil {
		e.WriteInt32(-1)
		return
	}
	e.WriteInt32(int32(len(v)))
	e.buf.Write(v)
}

// WriteDateTime writes t as an OPC UA DateTime (100ns intervals since
// 1601-01-01).
func (e *Encoder) WriteDateTime(t time.Time) {
	if t.IsZero() {
		e.WriteInt64(0)
		return
	}
	e.WriteInt64(t.UnixNano()/100 + opcuaEpochTicks)
}

// WriteStatusCode writes a StatusCode.
func (e *Encoder) WriteStatusCode(s StatusCode) { e.WriteUInt32(uint32(s)) }

// WriteNodeID writes a NodeID using the most compact applicable encoding.
func (e *Encoder) WriteNodeID(n NodeID) {
	switch n.Type {
	case IdentifierNumeric:
		switch {
		case n.Namespace == 0 && n.Numeric <= 255:
			e.WriteByte(0x00)
			e.WriteByte(byte(n.Numeric))
		case n.Namespace <= 255 && n.Numeric <= 65535:
			e.WriteByte(0x01)
			e.WriteByte(byte(n.Namespace))
			e.WriteUInt16(uint16(n.Numeric))
		default:
			e.WriteByte(0x02)
			e.WriteUInt16(n.Namespace)
			e.WriteUInt32(n.Numeric)
		}
	case IdentifierString:
		e.WriteByte(0x03)
		e.WriteUInt16(n.Namespace)
		e.WriteString(n.StringID)
	case IdentifierGUID:
		e.WriteByte(0x04)
		e.WriteUInt16(n.Namespace)
		e.writeGUID(n.GUID)
	case IdentifierOpaque:
		e.WriteByte(0x05)
		e.WriteUInt16(n.Namespace)
		e.WriteByteString(n.OpaqueID)
	default:
		// null NodeID
		e.WriteByte(0x00)
		e.WriteByte(0x00)
	}
}

func (e *Encoder) writeGUID(hexStr string) {
	var guid [16]byte
	if raw, err := hex.DecodeString(hexStr); err == nil && len(raw) == 16 {
		copy(guid[:], raw)
	}
	e.WriteUInt32(binary.BigEndian.Uint32(guid[0:4]))
	e.WriteUInt16(binary.BigEndian.Uint16(guid[4:6]))
	e.WriteUInt16(binary.BigEndian.Uint16(guid[6:8]))
	e.buf.Write(guid[8:16])
}

// WriteVariant writes a Variant using the TypeID tag and, for arrays, an
// Int32 element count ahead of the elements.
func (e *Encoder) WriteVariant(v Variant) {
	mask := byte(v.Type)
	if v.IsArray {
		mask |= 0x80
	}
	e.WriteByte(mask)
	if v.IsArray {
		e.WriteInt32(int32(len(v.Array)))
		for _, el := range v.Array {
			e.writeVariantScalar(v.Type, el)
		}
		return
	}
	e.writeVariantScalar(v.Type, v.Value)
}

func (e *Encoder) writeVariantScalar(t TypeID, val any) {
	switch t {
	case TypeNull:
	case TypeBoolean:
		e.WriteBoolean(val.(bool))
	case TypeSByte:
		e.WriteSByte(int8(val.(int64)))
	case TypeByte:
		e.WriteByte(byte(val.(int64)))
	case TypeInt16:
		e.WriteInt16(int16(val.(int64)))
	case TypeUInt16:
		e.WriteUInt16(uint16(val.(int64)))
	case TypeInt32:
		e.WriteInt32(int32(val.(int64)))
	case TypeUInt32:
		e.WriteUInt32(uint32(val.(int64)))
	case TypeInt64:
		e.WriteInt64(val.(int64))
	case TypeUInt64:
		e.WriteUInt64(val.(uint64))
	case TypeFloat:
		e.WriteFloat(val.(float32))
	case TypeDouble:
		e.WriteDouble(val.(float64))
	case TypeString:
		e.WriteString(val.(string))
	case TypeDateTime:
		d, _ := val.(time.Duration)
		e.WriteInt64(int64(d / 100))
	case TypeByteString:
		e.WriteByteString(val.([]byte))
	}
}

// WriteDataValue writes a DataValue's encoding mask followed by whichever
// fields the mask marks present.
func (e *Encoder) WriteDataValue(dv DataValue) {
	var mask byte
	if dv.Value.Type != TypeNull || dv.Value.Value != nil || dv.Value.IsArray {
		mask |= 0x01
	}
	if dv.Status != StatusGood {
		mask |= 0x02
	}
	if !dv.SourceTimestamp.IsZero() {
		mask |= 0x04
	}
	if !dv.ServerTimestamp.IsZero() {
		mask |= 0x08
	}
	e.WriteByte(mask)
	if mask&0x01 != 0 {
		e.WriteVariant(dv.Value)
	}
	if mask&0x02 != 0 {
		e.WriteStatusCode(dv.Status)
	}
	if mask&0x04 != 0 {
		e.WriteDateTime(dv.SourceTimestamp)
	}
	if mask&0x08 != 0 {
		e.WriteDateTime(dv.ServerTimestamp)
	}
}

// Decoder deserializes OPC UA builtin types from their binary wire form.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder wraps data for sequential reads.
func NewDecoder(data []byte) *Decoder { return &Decoder{data: data} }

// Remaining reports how many bytes are left unread.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

// Skip advances past n bytes, clamped to the end of the buffer.
func (d *Decoder) Skip(n int) {
	d.pos += n
	if d.pos > len(d.data) {
		d.pos = len(d.data)
	}
}

func (d *Decoder) ReadBoolean() (bool, error) {
	if d.pos >= len(d.data) {
		return false, ErrTruncated
	}
	v := d.data[d.pos] != 0
	d.pos++
	return v, nil
}

func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, ErrTruncated
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

func (d *Decoder) ReadSByte() (int8, error) {
	b, err := d.ReadByte()
	return int8(b), err
}

func (d *Decoder) ReadUInt16() (uint16, error) {
	if d.pos+2 > len(d.data) {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *Decoder) ReadInt16() (int16, error) {
	v, err := d.ReadUInt16()
	return int16(v), err
}

func (d *Decoder) ReadUInt32() (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *Decoder) ReadInt32() (int32, error) {
	v, err := d.ReadUInt32()
	return int32(v), err
}

func (d *Decoder) ReadUInt64() (uint64, error) {
	if d.pos+8 > len(d.data) {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *Decoder) ReadInt64() (int64, error) {
	v, err := d.ReadUInt64()
	return int64(v), err
}

func (d *Decoder) ReadFloat() (float32, error) {
	v, err := d.ReadUInt32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (d *Decoder) ReadDouble() (float64, error) {
	v, err := d.ReadUInt64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (d *Decoder) ReadString() (string, error) {
	length, err := d.ReadInt32()
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	if d.pos+int(length) > len(d.data) {
		return "", ErrTruncated
	}
	v := string(d.data[d.pos : d.pos+int(length)])
	d.pos += int(length)
	return v, nil
}

func (d *Decoder) ReadByteString() ([]byte, error) {
	length, err := d.ReadInt32()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, nil
	}
	if d.pos+int(length) > len(d.data) {
		return nil, ErrTruncated
	}
	v := make([]byte, length)
	copy(v, d.data[d.pos:d.pos+int(length)])
	d.pos += int(length)
	return v, nil
}

// ReadDateTime reads an OPC UA DateTime.
func (d *Decoder) ReadDateTime() (time.Time, error) {
	ticks, err := d.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	if ticks == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, (ticks-opcuaEpochTicks)*100).UTC(), nil
}

func (d *Decoder) ReadStatusCode() (StatusCode, error) {
	v, err := d.ReadUInt32()
	return StatusCode(v), err
}

func (d *Decoder) readGUID() (string, error) {
	if d.pos+16 > len(d.data) {
		return "", ErrTruncated
	}
	var guid [16]byte
	data1 := binary.LittleEndian.Uint32(d.data[d.pos:])
	binary.BigEndian.PutUint32(guid[0:4], data1)
	d.pos += 4
	data2, _ := d.ReadUInt16()
	binary.BigEndian.PutUint16(guid[4:6], data2)
	data3, _ := d.ReadUInt16()
	binary.BigEndian.PutUint16(guid[6:8], data3)
	copy(guid[8:16], d.data[d.pos:d.pos+8])
	d.pos += 8
	return hex.EncodeToString(guid[:]), nil
}

// ReadNodeID reads a NodeID in any of the five identifier encodings.
func (d *Decoder) ReadNodeID() (NodeID, error) {
	encodingByte, err := d.ReadByte()
	if err != nil {
		return NodeID{}, err
	}
	switch encodingByte & 0x0F {
	case 0x00:
		id, err := d.ReadByte()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: IdentifierNumeric, Numeric: uint32(id)}, nil
	case 0x01:
		ns, err := d.ReadByte()
		if err != nil {
			return NodeID{}, err
		}
		id, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: IdentifierNumeric, Namespace: uint16(ns), Numeric: uint32(id)}, nil
	case 0x02:
		ns, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		id, err := d.ReadUInt32()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: IdentifierNumeric, Namespace: ns, Numeric: id}, nil
	case 0x03:
		ns, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		s, err := d.ReadString()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: IdentifierString, Namespace: ns, StringID: s}, nil
	case 0x04:
		ns, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		guid, err := d.readGUID()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: IdentifierGUID, Namespace: ns, GUID: guid}, nil
	case 0x05:
		ns, err := d.ReadUInt16()
		if err != nil {
			return NodeID{}, err
		}
		opaque, err := d.ReadByteString()
		if err != nil {
			return NodeID{}, err
		}
		return NodeID{Type: IdentifierOpaque, Namespace: ns, OpaqueID: opaque}, nil
	default:
		return NodeID{}, fmt.Errorf("opcuaproto: unknown NodeID encoding %d", encodingByte&0x0F)
	}
}

// ReadVariant reads a Variant, dispatching on the TypeID tag in the
// leading encoding mask byte (bit 7 marks an array).
func (d *Decoder) ReadVariant() (Variant, error) {
	mask, err := d.ReadByte()
	if err != nil {
		return Variant{}, err
	}
	typeID := TypeID(mask & 0x3F)
	isArray := mask&0x80 != 0
	if !isArray {
		val, err := d.readVariantScalar(typeID)
		if err != nil {
			return Variant{}, err
		}
		return Variant{Type: typeID, Value: val}, nil
	}
	count, err := d.ReadInt32()
	if err != nil {
		return Variant{}, err
	}
	if count < 0 {
		return Variant{Type: typeID, IsArray: true}, nil
	}
	arr := make([]any, count)
	for i := int32(0); i < count; i++ {
		arr[i], err = d.readVariantScalar(typeID)
		if err != nil {
			return Variant{}, err
		}
	}
	return Variant{Type: typeID, IsArray: true, Array: arr}, nil
}

func (d *Decoder) readVariantScalar(t TypeID) (any, error) {
	switch t {
	case TypeNull:
		return nil, nil
	case TypeBoolean:
		return d.ReadBoolean()
	case TypeSByte:
		v, err := d.ReadSByte()
		return int64(v), err
	case TypeByte:
		v, err := d.ReadByte()
		return int64(v), err
	case TypeInt16:
		v, err := d.ReadInt16()
		return int64(v), err
	case TypeUInt16:
		v, err := d.ReadUInt16()
		return int64(v), err
	case TypeInt32:
		v, err := d.ReadInt32()
		return int64(v), err
	case TypeUInt32:
		v, err := d.ReadUInt32()
		return int64(v), err
	case TypeInt64:
		return d.ReadInt64()
	case TypeUInt64:
		return d.ReadUInt64()
	case TypeFloat:
		return d.ReadFloat()
	case TypeDouble:
		return d.ReadDouble()
	case TypeString:
		return d.ReadString()
	case TypeDateTime:
		ticks, err := d.ReadInt64()
		if err != nil {
			return nil, err
		}
		return time.Duration(ticks) * 100, nil
	case TypeByteString:
		return d.ReadByteString()
	default:
		return nil, fmt.Errorf("opcuaproto: unsupported variant type %d", t)
	}
}

// ReadDataValue reads a DataValue's encoding mask and whichever fields it
// marks present.
func (d *Decoder) ReadDataValue() (DataValue, error) {
	mask, err := d.ReadByte()
	if err != nil {
		return DataValue{}, err
	}
	var dv DataValue
	if mask&0x01 != 0 {
		dv.Value, err = d.ReadVariant()
		if err != nil {
			return DataValue{}, err
		}
	}
	if mask&0x02 != 0 {
		dv.Status, err = d.ReadStatusCode()
		if err != nil {
			return DataValue{}, err
		}
	}
	if mask&0x04 != 0 {
		dv.SourceTimestamp, err = d.ReadDateTime()
		if err != nil {
			return DataValue{}, err
		}
	}
	if mask&0x10 != 0 {
		if _, err := d.ReadUInt16(); err != nil { // SourcePicoseconds
			return DataValue{}, err
		}
	}
	if mask&0x08 != 0 {
		dv.ServerTimestamp, err = d.ReadDateTime()
		if err != nil {
			return DataValue{}, err
		}
	}
	if mask&0x20 != 0 {
		if _, err := d.ReadUInt16(); err != nil { // ServerPicoseconds
			return DataValue{}, err
		}
	}
	return dv, nil
}
