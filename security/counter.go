package security

import "sync/atomic"

// MetricsRecorder is the minimal surface the counter needs from an ambient
// metrics backend. Any type satisfying this signature (in particular the
// root package's Metrics interface) can be passed to NewCounter without an
// import cycle.
type MetricsRecorder interface {
	IncCounter(name string, tags map[string]string)
}

type noopRecorder struct{}

func (noopRecorder) IncCounter(string, map[string]string) {}

// Counter is a concurrency-safe, per-EventType tally. Increments are
// lock-free; Snapshot is consistent enough for observability, not for exact
// accounting under concurrent increments (per spec.md §4.11).
type Counter struct {
	counts  []atomic.Int64
	metrics MetricsRecorder
}

// allEvents fixes the EventType → slot mapping used by Counter's internal
// array. An event type passed to Increment that isn't in this list is
// silently dropped from the tally (though still forwarded to the metrics
// backend), rather than panicking.
var allEvents = []EventType{
	EventMissingClaim, EventUnsupportedAlgorithm, EventBadSignature,
	EventAlgorithmKeyMismatch, EventKeyNotFound, EventExpired, EventNotYetValid,
	EventAudienceMismatch, EventNonceMismatch, EventClaimMappingFailed,
	EventIssuerMismatch, EventUnknownIssuer, EventMalformedToken,
	EventEmbeddedJwkForbidden, EventTokenTypeMismatch, EventDpopCnfMissing,
	EventDpopProofMissing, EventDpopProofInvalid, EventDpopProofExpired,
	EventDpopAthMismatch, EventDpopThumbprintMismatch, EventDpopReplayDetected,
	EventJwksFetchFailed, EventWellKnownFetchFailed,
}

var eventSlot = func() map[EventType]int {
	m := make(map[EventType]int, len(allEvents))
	for i, e := range allEvents {
		m[e] = i
	}
	return m
}()

// NewCounter returns a Counter. A nil metrics recorder is replaced with a
// no-op, mirroring the rest of the ambient stack's "nil means silent" rule.
func NewCounter(metrics MetricsRecorder) *Counter {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Counter{counts: make([]atomic.Int64, len(allEvents)), metrics: metrics}
}

// Increment tallies one occurrence of the given event and forwards it to the
// configured metrics backend under the "oauthsheriff_security_events_total"
// counter, tagged by event type.
func (c *Counter) Increment(event EventType) {
	if idx, ok := eventSlot[event]; ok {
		c.counts[idx].Add(1)
	}
	c.metrics.IncCounter("oauthsheriff_security_events_total", map[string]string{"event": string(event)})
}

// Snapshot returns a point-in-time copy of every event's tally.
func (c *Counter) Snapshot() map[EventType]int64 {
	out := make(map[EventType]int64, len(allEvents))
	for i, e := range allEvents {
		out[e] = c.counts[i].Load()
	}
	return out
}

// Count returns the current tally for a single event type.
func (c *Counter) Count(event EventType) int64 {
	idx, ok := eventSlot[event]
	if !ok {
		return 0
	}
	return c.counts[idx].Load()
}
