package common

import (
	"fmt"
	"slices"
)

// --------------------------------------------------------------------------
// Field Names
// --------------------------------------------------------------------------

const (
	FieldRegion      = "region"
	FieldOperation   = "operation"
	FieldFlags       = "flags"
	FieldKey         = "key"
	FieldIsDelta     = "isDelta"
	FieldValue       = "value"
	FieldOldValue    = "oldValue"
	FieldEventID     = "eventId"
	FieldCallbackArg = "callbackArg"
	FieldExisted     = "existed"
	FieldContains    = "contains"
	FieldSize        = "size"
)

// Field describes one part position in a layout
type Field struct {
	Name  string
	Kinds []PartKind // accepted kinds, the first one is used when building
}

func field(name string, kinds ...PartKind) Field {
	return Field{Name: name, Kinds: kinds}
}

func (f Field) accepts(k PartKind) bool {
	return slices.Contains(f.Kinds, k)
}

// --------------------------------------------------------------------------
// Layout Table
// --------------------------------------------------------------------------

// Layout fixes count, order and kinds of the request and reply parts of one
// opcode for a range of protocol versions.
type Layout struct {
	OpCode     OpCode
	MinVersion Version
	MaxVersion Version
	Request    []Field
	Reply      []Field

	requestIndex map[string]int
	replyIndex   map[string]int
}

// Covers reports whether v lies within the layout's version range
func (l *Layout) Covers(v Version) bool {
	return v >= l.MinVersion && v <= l.MaxVersion
}

func (l *Layout) String() string {
	return fmt.Sprintf("%s[%s..%s]", l.OpCode, l.MinVersion, l.MaxVersion)
}

var (
	fRegion      = field(FieldRegion, PartString)
	fKey         = field(FieldKey, PartString, PartObject)
	fCallbackArg = field(FieldCallbackArg, PartObject)
	fEventID     = field(FieldEventID, PartObject)
	fFlags       = field(FieldFlags, PartInt)
)

var layouts = []*Layout{
	{
		OpCode: OpGet, MinVersion: V1, MaxVersion: V1,
		Request: []Field{fRegion, fKey},
		Reply:   []Field{field(FieldValue, PartObject)},
	},
	{
		OpCode: OpGet, MinVersion: V2, MaxVersion: V2,
		Request: []Field{fRegion, fKey, fCallbackArg},
		Reply:   []Field{fFlags, field(FieldValue, PartObject)},
	},
	{
		OpCode: OpPing, MinVersion: V1, MaxVersion: V2,
	},
	{
		OpCode: OpPut, MinVersion: V1, MaxVersion: V1,
		Request: []Field{fRegion, fKey, field(FieldIsDelta, PartBool), field(FieldValue, PartObject), fEventID, fCallbackArg},
		Reply:   []Field{field(FieldOldValue, PartObject)},
	},
	{
		OpCode: OpPut, MinVersion: V2, MaxVersion: V2,
		Request: []Field{fRegion, field(FieldOperation, PartInt), fFlags, fKey, field(FieldIsDelta, PartBool), field(FieldValue, PartObject), fEventID, fCallbackArg},
		Reply:   []Field{fFlags, field(FieldOldValue, PartObject)},
	},
	{
		OpCode: OpDestroy, MinVersion: V1, MaxVersion: V2,
		Request: []Field{fRegion, fKey, fEventID, fCallbackArg},
		Reply:   []Field{field(FieldExisted, PartBool)},
	},
	{
		OpCode: OpContainsKey, MinVersion: V2, MaxVersion: V2,
		Request: []Field{fRegion, fKey},
		Reply:   []Field{field(FieldContains, PartBool)},
	},
	{
		OpCode: OpSize, MinVersion: V2, MaxVersion: V2,
		Request: []Field{fRegion},
		Reply:   []Field{field(FieldSize, PartInt)},
	},
}

func init() {
	for _, l := range layouts {
		l.requestIndex = indexFields(l.Request)
		l.replyIndex = indexFields(l.Reply)
	}
}

func indexFields(fields []Field) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f.Name] = i
	}
	return idx
}

// LayoutFor returns the layout of op for version v
func LayoutFor(op OpCode, v Version) (*Layout, bool) {
	for _, l := range layouts {
		if l.OpCode == op && l.Covers(v) {
			return l, true
		}
	}
	return nil, false
}

// Layouts returns all layouts in table order
func Layouts() []*Layout {
	return slices.Clone(layouts)
}

// --------------------------------------------------------------------------
// Building
// --------------------------------------------------------------------------

// Fields holds named parts used to build a message. Names that the layout does
// not contain are ignored, so callers can fill in the superset of all versions.
type Fields map[string]*Part

// BuildRequest creates a request message with the parts ordered as the layout requires
func (l *Layout) BuildRequest(fields Fields) (*Message, error) {
	parts, err := build(l, l.Request, fields)
	if err != nil {
		return nil, err
	}
	return NewMessage(l.OpCode, parts...), nil
}

// BuildReply creates a reply message for a request with transaction id txID
func (l *Layout) BuildReply(txID int32, fields Fields) (*Message, error) {
	parts, err := build(l, l.Reply, fields)
	if err != nil {
		return nil, err
	}
	msg := NewMessage(OpReply, parts...)
	msg.TransactionID = txID
	return msg, nil
}

func build(l *Layout, layout []Field, fields Fields) ([]*Part, error) {
	parts := make([]*Part, len(layout))
	for i, f := range layout {
		p, ok := fields[f.Name]
		if !ok || p == nil {
			return nil, fmt.Errorf("%s: missing field %q", l, f.Name)
		}
		if !f.accepts(p.Kind()) {
			return nil, fmt.Errorf("%s: field %q must not be a %s part", l, f.Name, p.Kind())
		}
		parts[i] = p
	}
	return parts, nil
}

// --------------------------------------------------------------------------
// Binding
// --------------------------------------------------------------------------

// Bound gives named access to the parts of a message that matched a layout.
// Fields the layout's version lacks read as absent and the accessors return
// the given default.
type Bound struct {
	msg   *Message
	index map[string]int
}

// BindRequest validates msg against the request layout
func (l *Layout) BindRequest(msg *Message) (*Bound, error) {
	if err := validate(l, l.Request, msg); err != nil {
		return nil, err
	}
	return &Bound{msg: msg, index: l.requestIndex}, nil
}

// BindReply validates msg against the reply layout
func (l *Layout) BindReply(msg *Message) (*Bound, error) {
	if err := validate(l, l.Reply, msg); err != nil {
		return nil, err
	}
	return &Bound{msg: msg, index: l.replyIndex}, nil
}

func validate(l *Layout, layout []Field, msg *Message) error {
	if msg.NumParts() != len(layout) {
		return NewAppError(ErrCodeBadPart, "%s expects %d parts, got %d", l, len(layout), msg.NumParts())
	}
	for i, f := range layout {
		if k := msg.Parts[i].Kind(); !f.accepts(k) {
			return NewAppError(ErrCodeBadPart, "%s: part %d (%s) must not be a %s part", l, i, f.Name, k)
		}
	}
	return nil
}

// Has reports whether the layout contains the field
func (b *Bound) Has(name string) bool {
	_, ok := b.index[name]
	return ok
}

// Part returns the named part, or nil if the layout does not contain it
func (b *Bound) Part(name string) *Part {
	i, ok := b.index[name]
	if !ok {
		return nil
	}
	return b.msg.Parts[i]
}

func (b *Bound) String(name, def string) (string, error) {
	if p := b.Part(name); p != nil {
		return p.GetString()
	}
	return def, nil
}

func (b *Bound) Int(name string, def int32) (int32, error) {
	if p := b.Part(name); p != nil {
		return p.GetInt()
	}
	return def, nil
}

func (b *Bound) Bool(name string, def bool) (bool, error) {
	if p := b.Part(name); p != nil {
		return p.GetBool()
	}
	return def, nil
}

// Object returns the decoded object, or nil for null objects and absent fields
func (b *Bound) Object(name string) (any, error) {
	if p := b.Part(name); p != nil {
		return p.GetObject()
	}
	return nil, nil
}

// ObjectBytes returns the encoded object, or nil for null objects and absent fields
func (b *Bound) ObjectBytes(name string) []byte {
	if p := b.Part(name); p != nil && !p.IsNull() {
		return p.Data()
	}
	return nil
}

// StringOrObject returns a string or decoded object field
func (b *Bound) StringOrObject(name string) (any, error) {
	if p := b.Part(name); p != nil {
		return p.GetStringOrObject()
	}
	return nil, nil
}
