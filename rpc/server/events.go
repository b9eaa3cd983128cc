package server

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// DefaultEventsPerClient is the number of applied events remembered per client
	DefaultEventsPerClient = 1024
	// DefaultEventTTL is how long the events of an idle client are kept
	DefaultEventTTL = 180 * time.Second
	// DefaultMaxTrackedClients bounds the number of clients with recorded events
	DefaultMaxTrackedClients = 10_000
	// DefaultRetainedBytesPerClient bounds the previous values kept per client
	DefaultRetainedBytesPerClient = 4 << 20
)

// EventResult is what a retried write returns instead of being applied again
type EventResult struct {
	OldValue []byte
	Existed  bool
}

func (r EventResult) size() int {
	return len(r.OldValue)
}

// EventTracker remembers the results of the most recent writes of every
// client, keyed by event id. A client that resends a write after a lost
// reply gets the original result.
//
// Memory is bounded three ways: events per client, retained bytes per client
// and tracked clients. Clients that were idle for longer than the ttl are
// dropped, the sweep runs as part of Record.
type EventTracker struct {
	limit      int
	ttl        time.Duration
	maxClients int
	maxBytes   int
	now        func() time.Time

	clients   *xsync.MapOf[string, *clientEvents]
	lastSweep atomic.Int64
}

// clientEvents is a bounded FIFO of the events of one client
type clientEvents struct {
	mu       sync.Mutex
	results  map[common.EventID]EventResult
	order    []common.EventID
	bytes    int
	lastSeen atomic.Int64
}

// TrackerOption configures an EventTracker
type TrackerOption func(*EventTracker)

// WithEventTTL sets how long the events of an idle client are kept
func WithEventTTL(ttl time.Duration) TrackerOption {
	return func(t *EventTracker) { t.ttl = ttl }
}

// WithMaxTrackedClients sets the maximum number of clients with recorded events.
// Recording for a new client above the limit evicts the least recently seen one.
func WithMaxTrackedClients(n int) TrackerOption {
	return func(t *EventTracker) { t.maxClients = n }
}

// WithRetainedBytesPerClient bounds the size of the previous values kept per client
func WithRetainedBytesPerClient(n int) TrackerOption {
	return func(t *EventTracker) { t.maxBytes = n }
}

func withClock(now func() time.Time) TrackerOption {
	return func(t *EventTracker) { t.now = now }
}

// NewEventTracker creates a tracker that keeps up to limit events per client
func NewEventTracker(limit int, opts ...TrackerOption) *EventTracker {
	t := &EventTracker{
		limit:      limit,
		ttl:        DefaultEventTTL,
		maxClients: DefaultMaxTrackedClients,
		maxBytes:   DefaultRetainedBytesPerClient,
		now:        time.Now,
		clients:    xsync.NewMapOf[string, *clientEvents](),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.limit <= 0 {
		t.limit = DefaultEventsPerClient
	}
	t.lastSweep.Store(t.now().UnixNano())
	return t
}

// Lookup returns the recorded result of an event
func (t *EventTracker) Lookup(clientID string, id common.EventID) (EventResult, bool) {
	ce, ok := t.clients.Load(clientID)
	if !ok {
		return EventResult{}, false
	}
	ce.lastSeen.Store(t.now().UnixNano())

	ce.mu.Lock()
	defer ce.mu.Unlock()
	res, ok := ce.results[id]
	return res, ok
}

// Record stores the result of an applied event. The oldest events of the
// client are evicted if the event or byte limit is reached.
func (t *EventTracker) Record(clientID string, id common.EventID, res EventResult) {
	now := t.now()
	t.maybeSweep(now)

	ce, loaded := t.clients.LoadOrCompute(clientID, func() *clientEvents {
		ce := &clientEvents{results: make(map[common.EventID]EventResult)}
		ce.lastSeen.Store(now.UnixNano())
		return ce
	})
	ce.lastSeen.Store(now.UnixNano())
	if !loaded && t.maxClients > 0 && t.clients.Size() > t.maxClients {
		t.evictLeastRecent(clientID)
	}

	// a result larger than the budget is not worth keeping
	if t.maxBytes > 0 && res.size() > t.maxBytes {
		Logger.Debugf("not tracking event %s of %s, result has %d bytes", id, clientID, res.size())
		return
	}

	ce.mu.Lock()
	defer ce.mu.Unlock()

	if prev, ok := ce.results[id]; ok {
		ce.bytes -= prev.size()
	} else {
		ce.order = append(ce.order, id)
	}
	ce.results[id] = res
	ce.bytes += res.size()

	for len(ce.order) > t.limit || (t.maxBytes > 0 && ce.bytes > t.maxBytes) {
		oldest := ce.order[0]
		ce.order = slices.Delete(ce.order, 0, 1)
		ce.bytes -= ce.results[oldest].size()
		delete(ce.results, oldest)
	}
}

// Forget drops all events of a client
func (t *EventTracker) Forget(clientID string) {
	t.clients.Delete(clientID)
}

// Clients returns the number of clients with recorded events
func (t *EventTracker) Clients() int {
	return t.clients.Size()
}

// Expire drops the events of all clients that were idle for longer than the
// ttl and returns how many clients were dropped
func (t *EventTracker) Expire() int {
	return t.expire(t.now())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// maybeSweep expires idle clients at most every half ttl
func (t *EventTracker) maybeSweep(now time.Time) {
	if t.ttl <= 0 {
		return
	}
	last := t.lastSweep.Load()
	if now.UnixNano()-last < int64(t.ttl/2) || !t.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	if n := t.expire(now); n > 0 {
		Logger.Debugf("expired the events of %d idle clients", n)
	}
}

func (t *EventTracker) expire(now time.Time) int {
	if t.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-t.ttl).UnixNano()
	expired := 0
	t.clients.Range(func(clientID string, ce *clientEvents) bool {
		if ce.lastSeen.Load() < cutoff {
			t.clients.Compute(clientID, func(cur *clientEvents, loaded bool) (*clientEvents, bool) {
				// the client may have been replaced or touched meanwhile
				if !loaded || cur != ce || ce.lastSeen.Load() >= cutoff {
					return cur, !loaded
				}
				expired++
				return nil, true
			})
		}
		return true
	})
	return expired
}

// evictLeastRecent drops the client that was seen least recently, except keep
func (t *EventTracker) evictLeastRecent(keep string) {
	var victim string
	oldest := int64(0)
	t.clients.Range(func(clientID string, ce *clientEvents) bool {
		if clientID == keep {
			return true
		}
		if seen := ce.lastSeen.Load(); victim == "" || seen < oldest {
			victim, oldest = clientID, seen
		}
		return true
	})
	if victim != "" {
		t.clients.Delete(victim)
		Logger.Debugf("tracking too many clients, dropped the events of %s", victim)
	}
}
