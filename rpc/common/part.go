package common

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/objcodec"
)

// --------------------------------------------------------------------------
// Part Kinds
// --------------------------------------------------------------------------

// PartKind is the wire tag of a part
type PartKind uint8

const (
	PartBytes  PartKind = 1 // opaque byte array
	PartString PartKind = 2 // utf-8 string
	PartInt    PartKind = 3 // int32, 4 bytes big endian
	PartBool   PartKind = 4 // 1 byte, 0 or 1
	PartObject PartKind = 5 // msgpack encoded object, empty payload = null
)

func (k PartKind) String() string {
	switch k {
	case PartBytes:
		return "bytes"
	case PartString:
		return "string"
	case PartInt:
		return "int"
	case PartBool:
		return "bool"
	case PartObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsValid reports whether k is a known tag
func (k PartKind) IsValid() bool {
	return k >= PartBytes && k <= PartObject
}

// FixedLength returns the payload length of fixed width kinds, or -1
func (k PartKind) FixedLength() int {
	switch k {
	case PartInt:
		return 4
	case PartBool:
		return 1
	default:
		return -1
	}
}

// --------------------------------------------------------------------------
// Part
// --------------------------------------------------------------------------

// Part is one typed payload field of a message. Object parts keep their
// encoded form and are only decoded on first access.
type Part struct {
	kind PartKind
	data []byte

	decoded bool
	object  any
}

// NewPart creates a part from its wire representation, the payload is not copied.
func NewPart(kind PartKind, data []byte) *Part {
	return &Part{kind: kind, data: data}
}

func BytesPart(b []byte) *Part {
	return &Part{kind: PartBytes, data: b}
}

func StringPart(s string) *Part {
	return &Part{kind: PartString, data: []byte(s)}
}

func IntPart(v int32) *Part {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, uint32(v))
	return &Part{kind: PartInt, data: data}
}

func BoolPart(v bool) *Part {
	if v {
		return &Part{kind: PartBool, data: []byte{1}}
	}
	return &Part{kind: PartBool, data: []byte{0}}
}

// ObjectPart encodes v into an object part. A nil v yields the null object.
func ObjectPart(v any) (*Part, error) {
	data, err := objcodec.Encode(v)
	if err != nil {
		return nil, err
	}
	return &Part{kind: PartObject, data: data}, nil
}

// RawObjectPart creates an object part from already encoded bytes
func RawObjectPart(data []byte) *Part {
	return &Part{kind: PartObject, data: data}
}

// NullObjectPart creates an object part holding null
func NullObjectPart() *Part {
	return &Part{kind: PartObject, decoded: true}
}

// Kind returns the wire tag of the part
func (p *Part) Kind() PartKind {
	return p.kind
}

// Data returns the raw payload. For object parts this is the encoded object.
func (p *Part) Data() []byte {
	return p.data
}

// Len returns the payload length
func (p *Part) Len() int {
	return len(p.data)
}

// IsNull reports whether the part is a null object
func (p *Part) IsNull() bool {
	return p.kind == PartObject && len(p.data) == 0
}

// --------------------------------------------------------------------------
// Typed Accessors
// --------------------------------------------------------------------------

func (p *Part) mismatch(want PartKind) error {
	return NewAppError(ErrCodeTypeMismatch, "expected %s part, got %s", want, p.kind)
}

// GetBytes returns the payload of a bytes part
func (p *Part) GetBytes() ([]byte, error) {
	if p.kind != PartBytes {
		return nil, p.mismatch(PartBytes)
	}
	return p.data, nil
}

// GetString returns the value of a string part
func (p *Part) GetString() (string, error) {
	if p.kind != PartString {
		return "", p.mismatch(PartString)
	}
	return string(p.data), nil
}

// GetInt returns the value of an int part
func (p *Part) GetInt() (int32, error) {
	if p.kind != PartInt {
		return 0, p.mismatch(PartInt)
	}
	if len(p.data) != 4 {
		return 0, NewAppError(ErrCodeBadPart, "int part has %d bytes", len(p.data))
	}
	return int32(binary.BigEndian.Uint32(p.data)), nil
}

// GetBool returns the value of a bool part
func (p *Part) GetBool() (bool, error) {
	if p.kind != PartBool {
		return false, p.mismatch(PartBool)
	}
	if len(p.data) != 1 {
		return false, NewAppError(ErrCodeBadPart, "bool part has %d bytes", len(p.data))
	}
	return p.data[0] != 0, nil
}

// GetObject decodes the object on first access and caches the result.
// Numeric values are normalized (see objcodec.Normalize).
func (p *Part) GetObject() (any, error) {
	if p.kind != PartObject {
		return nil, p.mismatch(PartObject)
	}
	if p.decoded {
		return p.object, nil
	}
	obj, err := objcodec.Decode(p.data)
	if err != nil {
		return nil, WrapAppError(ErrCodeBadPart, err, "undecodable object part")
	}
	p.object, p.decoded = obj, true
	return obj, nil
}

// GetObjectInto decodes the object into target. The result is not cached.
func (p *Part) GetObjectInto(target any) error {
	if p.kind != PartObject {
		return p.mismatch(PartObject)
	}
	if err := objcodec.DecodeInto(p.data, target); err != nil {
		return WrapAppError(ErrCodeBadPart, err, "undecodable object part")
	}
	return nil
}

// GetStringOrObject returns the value of a string part as string, or the
// decoded value of an object part. Keys are sent either way.
func (p *Part) GetStringOrObject() (any, error) {
	switch p.kind {
	case PartString:
		return string(p.data), nil
	case PartObject:
		return p.GetObject()
	default:
		return nil, NewAppError(ErrCodeTypeMismatch, "expected string or object part, got %s", p.kind)
	}
}

// Equal reports whether two parts have the same kind and payload
func (p *Part) Equal(o *Part) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.kind == o.kind && bytes.Equal(p.data, o.data)
}
