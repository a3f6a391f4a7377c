package security

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingMetrics struct {
	mu   sync.Mutex
	hits map[string]int
}

func (r *recordingMetrics) IncCounter(name string, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hits == nil {
		r.hits = map[string]int{}
	}
	r.hits[tags["event"]]++
}

func TestCounter_IncrementAndSnapshot(t *testing.T) {
	rec := &recordingMetrics{}
	c := NewCounter(rec)

	c.Increment(EventExpired)
	c.Increment(EventExpired)
	c.Increment(EventBadSignature)

	assert.Equal(t, int64(2), c.Count(EventExpired))
	assert.Equal(t, int64(1), c.Count(EventBadSignature))
	assert.Equal(t, int64(0), c.Count(EventDpopReplayDetected))

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap[EventExpired])
	assert.Equal(t, 2, rec.hits[string(EventExpired)])
}

func TestCounter_ConcurrentIncrement(t *testing.T) {
	c := NewCounter(nil)
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			c.Increment(EventDpopReplayDetected)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(n), c.Count(EventDpopReplayDetected))
}

func TestCounter_UnknownEventDoesNotPanic(t *testing.T) {
	c := NewCounter(nil)
	assert.NotPanics(t, func() {
		c.Increment(EventType("nonexistent"))
	})
}
