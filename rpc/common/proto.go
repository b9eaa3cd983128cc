package common

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// NoTransaction is the transaction id carried by requests that do not run inside a transaction.
const NoTransaction int32 = -1

// Message represents a single framed message used for both requests and replies.
// Which parts are present, and in which order, depends on the opcode and the
// negotiated protocol version (see the layout table in layout.go).
type Message struct {
	// OpCode selects the operation (requests) or the reply kind (replies)
	OpCode OpCode
	// TransactionID is NoTransaction or the id of the client transaction
	TransactionID int32
	// Flags is a bitset, its meaning depends on the opcode
	Flags MessageFlags
	// Parts holds the typed payload fields in wire order
	Parts []*Part
}

// NewMessage creates a message without a transaction
func NewMessage(op OpCode, parts ...*Part) *Message {
	return &Message{
		OpCode:        op,
		TransactionID: NoTransaction,
		Parts:         parts,
	}
}

// NumParts returns the number of parts in the message
func (m *Message) NumParts() int {
	return len(m.Parts)
}

// Part returns the part at index i or nil if the message has fewer parts
func (m *Message) Part(i int) *Part {
	if i < 0 || i >= len(m.Parts) {
		return nil
	}
	return m.Parts[i]
}

// HasTransaction reports whether the message runs inside a client transaction
func (m *Message) HasTransaction() bool {
	return m.TransactionID != NoTransaction
}

// IsError reports whether the message is an error reply
func (m *Message) IsError() bool {
	return m.OpCode == OpException
}

// String returns a short human-readable description, used in logs
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s(tx=%d, flags=%#x, parts=[", m.OpCode, m.TransactionID, int32(m.Flags)))
	for i, p := range m.Parts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Kind().String())
	}
	sb.WriteString("])")
	return sb.String()
}

// --------------------------------------------------------------------------
// Message Flags
// --------------------------------------------------------------------------

// MessageFlags is the header flag bitset
type MessageFlags int32

const (
	// FlagIsRetry marks a request that the client resends after a failure
	FlagIsRetry MessageFlags = 1 << iota
)

// Has reports whether all bits of f are set
func (m MessageFlags) Has(f MessageFlags) bool {
	return m&f == f
}

// --------------------------------------------------------------------------
// Operation Codes
// --------------------------------------------------------------------------

// OpCode identifies the requested operation or the kind of reply
type OpCode int32

const (
	OpGet         OpCode = 0  // Read the value of a key
	OpReply       OpCode = 1  // Successful reply to any request
	OpException   OpCode = 2  // Error reply to any request
	OpPing        OpCode = 5  // Keep-alive ping
	OpPut         OpCode = 7  // Put a value or a delta
	OpDestroy     OpCode = 9  // Remove a key
	OpContainsKey OpCode = 38 // Check if a key exists
	OpSize        OpCode = 81 // Number of entries in a region
)

// String returns the string representation of an OpCode.
func (o OpCode) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpReply:
		return "reply"
	case OpException:
		return "exception"
	case OpPing:
		return "ping"
	case OpPut:
		return "put"
	case OpDestroy:
		return "destroy"
	case OpContainsKey:
		return "containsKey"
	case OpSize:
		return "size"
	default:
		return fmt.Sprintf("op(%d)", int32(o))
	}
}

// --------------------------------------------------------------------------
// Protocol Versions
// --------------------------------------------------------------------------

// Version is the protocol version negotiated during the handshake
type Version int16

const (
	VersionUnknown Version = 0
	V1             Version = 1 // Initial protocol
	V2             Version = 2 // Adds operation/flags to put, reply flags, containsKey and size

	// VersionCurrent is the newest version spoken by this module
	VersionCurrent = V2
)

// SupportedVersions lists all versions accepted at handshake, oldest first
var SupportedVersions = []Version{V1, V2}

// IsSupported reports whether v can be negotiated
func (v Version) IsSupported() bool {
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}

func (v Version) String() string {
	if v == VersionUnknown {
		return "unknown"
	}
	return fmt.Sprintf("v%d", int16(v))
}

// --------------------------------------------------------------------------
// Operation Kinds (put "operation" part)
// --------------------------------------------------------------------------

// OpKind is the kind of write carried by the operation part of a put
type OpKind uint8

const (
	OpKindUpdate      OpKind = 1 // Plain put, create or replace
	OpKindCreate      OpKind = 2 // Put that the client expects to create the entry
	OpKindPutIfAbsent OpKind = 3 // Only put if the key has no value
)

func (k OpKind) String() string {
	switch k {
	case OpKindUpdate:
		return "update"
	case OpKindCreate:
		return "create"
	case OpKindPutIfAbsent:
		return "putIfAbsent"
	default:
		return fmt.Sprintf("opKind(%d)", uint8(k))
	}
}

// Put request flags (V2 "flags" part)
const (
	PutRequireOldValue int32 = 1 << iota // The client wants the previous value back
)

// Reply flags (first part of V2 get and put replies)
const (
	ReplyHasValue int32 = 1 << iota // The value/old value part is not null
)

// --------------------------------------------------------------------------
// Event Identifier
// --------------------------------------------------------------------------

// EventID identifies one client operation. A client reuses the id when it
// retries an operation so the server can detect duplicates.
type EventID struct {
	ThreadID   int64 `codec:"t"`
	SequenceID int64 `codec:"s"`
}

func (e EventID) String() string {
	return fmt.Sprintf("%d:%d", e.ThreadID, e.SequenceID)
}
