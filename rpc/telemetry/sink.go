package telemetry

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("telemetry")

// Sink is the default ISink. Counters and histograms live in a private
// metrics.Set, aggregated byte throughput is tracked with go-metrics meters.
type Sink struct {
	set      *metrics.Set
	registry gometrics.Registry

	accepted *metrics.Counter
	rejected *metrics.Counter
	closed   *metrics.Counter
	open     atomic.Int64

	bytesRead    gometrics.Meter
	bytesWritten gometrics.Meter
}

// NewSink creates a sink with its own metric set
func NewSink() *Sink {
	s := &Sink{
		set:      metrics.NewSet(),
		registry: gometrics.NewRegistry(),
	}

	s.accepted = s.set.NewCounter(`dgrid_connections_total{status="accepted"}`)
	s.rejected = s.set.NewCounter(`dgrid_connections_total{status="rejected"}`)
	s.closed = s.set.NewCounter(`dgrid_connections_total{status="closed"}`)
	s.set.NewGauge(`dgrid_connections_open`, func() float64 {
		return float64(s.open.Load())
	})

	s.bytesRead = gometrics.GetOrRegisterMeter("bytes.read", s.registry)
	s.bytesWritten = gometrics.GetOrRegisterMeter("bytes.written", s.registry)
	s.set.NewGauge(`dgrid_bytes_total{direction="read"}`, func() float64 {
		return float64(s.bytesRead.Count())
	})
	s.set.NewGauge(`dgrid_bytes_total{direction="written"}`, func() float64 {
		return float64(s.bytesWritten.Count())
	})
	s.set.NewGauge(`dgrid_bytes_rate1m{direction="read"}`, func() float64 {
		return s.bytesRead.Rate1()
	})
	s.set.NewGauge(`dgrid_bytes_rate1m{direction="written"}`, func() float64 {
		return s.bytesWritten.Rate1()
	})

	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see telemetry.ISink)
// --------------------------------------------------------------------------

func (s *Sink) ConnectionAccepted(remote string, version common.Version) {
	s.accepted.Inc()
	s.open.Add(1)
	Logger.Debugf("connection %s accepted with protocol %s", remote, version)
}

func (s *Sink) ConnectionRejected(remote string, reason string) {
	s.rejected.Inc()
	Logger.Debugf("connection %s rejected: %s", remote, reason)
}

func (s *Sink) ConnectionClosed(remote string, version common.Version, counters *ByteCounters, lifetime time.Duration) {
	s.closed.Inc()
	if version != common.VersionUnknown {
		s.open.Add(-1)
	}
	if counters != nil {
		s.set.GetOrCreateHistogram(`dgrid_connection_bytes{direction="read"}`).Update(float64(counters.Read.Count()))
		s.set.GetOrCreateHistogram(`dgrid_connection_bytes{direction="written"}`).Update(float64(counters.Written.Count()))
	}
	s.set.GetOrCreateHistogram(`dgrid_connection_lifetime_seconds`).Update(lifetime.Seconds())
	Logger.Debugf("connection %s closed after %s", remote, lifetime)
}

func (s *Sink) RequestServed(op common.OpCode, duration time.Duration) {
	s.set.GetOrCreateCounter(fmt.Sprintf(`dgrid_requests_total{op=%q,status="ok"}`, op.String())).Inc()
	s.set.GetOrCreateHistogram(fmt.Sprintf(`dgrid_request_duration_seconds{op=%q}`, op.String())).Update(duration.Seconds())
}

func (s *Sink) RequestFailed(op common.OpCode, code common.ErrorCode, duration time.Duration) {
	s.set.GetOrCreateCounter(fmt.Sprintf(`dgrid_requests_total{op=%q,status="error",code="%d"}`, op.String(), int32(code))).Inc()
	s.set.GetOrCreateHistogram(fmt.Sprintf(`dgrid_request_duration_seconds{op=%q}`, op.String())).Update(duration.Seconds())
}

func (s *Sink) NewByteCounters() *ByteCounters {
	return &ByteCounters{
		Read:    &meteredCounter{Counter: gometrics.NewCounter(), meter: s.bytesRead},
		Written: &meteredCounter{Counter: gometrics.NewCounter(), meter: s.bytesWritten},
	}
}

// --------------------------------------------------------------------------
// Exposition
// --------------------------------------------------------------------------

// WritePrometheus writes all metrics of the sink in prometheus text format
func (s *Sink) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}

// OpenConnections returns the number of connections that completed the handshake and are not closed yet
func (s *Sink) OpenConnections() int64 {
	return s.open.Load()
}

// Accepted returns the number of accepted connections
func (s *Sink) Accepted() uint64 { return s.accepted.Get() }

// Rejected returns the number of rejected connections
func (s *Sink) Rejected() uint64 { return s.rejected.Get() }

// BytesRead returns the number of bytes read over all connections
func (s *Sink) BytesRead() int64 { return s.bytesRead.Count() }

// BytesWritten returns the number of bytes written over all connections
func (s *Sink) BytesWritten() int64 { return s.bytesWritten.Count() }

// Close stops the background tickers of the meters
func (s *Sink) Close() {
	s.bytesRead.Stop()
	s.bytesWritten.Stop()
}

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// meteredCounter is a per connection counter that also feeds the aggregate meter
type meteredCounter struct {
	gometrics.Counter
	meter gometrics.Meter
}

func (c *meteredCounter) Inc(n int64) {
	c.Counter.Inc(n)
	c.meter.Mark(n)
}
