package telemetry

import (
	"time"

	"github.com/ValentinKolb/dGrid/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
)

// ISink receives the telemetry events of the cache server. Implementations
// must be safe for concurrent use, all methods are called from connection
// goroutines and must not block.
type ISink interface {
	// ConnectionAccepted is called when a connection completed its handshake
	ConnectionAccepted(remote string, version common.Version)
	// ConnectionRejected is called when a connection is refused at admission or handshake
	ConnectionRejected(remote string, reason string)
	// ConnectionClosed is called once per admitted connection when it terminates.
	// version is common.VersionUnknown if the handshake never completed.
	ConnectionClosed(remote string, version common.Version, counters *ByteCounters, lifetime time.Duration)
	// RequestServed is called after a successful reply was written
	RequestServed(op common.OpCode, duration time.Duration)
	// RequestFailed is called after an exception reply was written
	RequestFailed(op common.OpCode, code common.ErrorCode, duration time.Duration)
	// NewByteCounters creates the byte counters of a new connection
	NewByteCounters() *ByteCounters
}

// ByteCounters count the bytes read from and written to one connection
type ByteCounters struct {
	Read    gometrics.Counter
	Written gometrics.Counter
}

// NewByteCounters creates standalone counters
func NewByteCounters() *ByteCounters {
	return &ByteCounters{
		Read:    gometrics.NewCounter(),
		Written: gometrics.NewCounter(),
	}
}
