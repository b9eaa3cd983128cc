package telemetry

import (
	"time"

	"github.com/ValentinKolb/dGrid/rpc/common"
)

// NopSink discards all events
type NopSink struct{}

func (NopSink) ConnectionAccepted(string, common.Version)                              {}
func (NopSink) ConnectionRejected(string, string)                                      {}
func (NopSink) ConnectionClosed(string, common.Version, *ByteCounters, time.Duration) {}
func (NopSink) RequestServed(common.OpCode, time.Duration)                             {}
func (NopSink) RequestFailed(common.OpCode, common.ErrorCode, time.Duration)           {}
func (NopSink) NewByteCounters() *ByteCounters                                         { return NewByteCounters() }
