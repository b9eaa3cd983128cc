package lstore

import "github.com/ValentinKolb/dGrid/lib/txn"

// EventOp is the kind of change an Event describes
type EventOp uint8

const (
	EventCreate EventOp = iota + 1
	EventUpdate
	EventDestroy
)

func (o EventOp) String() string {
	switch o {
	case EventCreate:
		return "create"
	case EventUpdate:
		return "update"
	case EventDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// Event describes one applied change of a region entry
type Event struct {
	Op          EventOp
	Region      string
	Key         any
	OldValue    []byte
	NewValue    []byte
	CallbackArg []byte
	// Tx is the transaction the change was made in
	Tx txn.Context
}

// Listener is called synchronously after each change. It must not call back
// into the region that emitted the event.
type Listener func(Event)
