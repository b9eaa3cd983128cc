// Package telemetry collects the events the cache server emits about
// connections and requests.
//
// The default Sink keeps counters and histograms in its own
// VictoriaMetrics metrics.Set and tracks byte throughput with go-metrics
// meters. Every connection gets its own pair of byte counters (see
// NewByteCounters) that also feed the aggregate meters. The collected
// metrics can be served in prometheus text format with ServeMetrics.
package telemetry
