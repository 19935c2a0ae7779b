package replication

import (
	"sync"
	"time"
)

// AckTracker is the write-concern wait/notify coordination point between a
// foreground Append call and the background ack callbacks fired by
// replication workers.
//
// It is a single shared structure guarded by one condition variable, per
// spec.md §4.4 and the Design Notes in §9: a monitor condition protecting
// the ack map, broadcast on every ack, wait with a deadline using a
// while-predicate loop to defeat spurious wakeups.
type AckTracker struct {
	mu   sync.Mutex
	cond *sync.Cond
	acks map[uint64]map[string]struct{}
}

// NewAckTracker creates an empty tracker.
func NewAckTracker() *AckTracker {
	t := &AckTracker{acks: make(map[uint64]map[string]struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Init creates an empty ack set for id. Must be called before Wait or Ack
// for that id will be silently dropped.
func (t *AckTracker) Init(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acks[id] = make(map[string]struct{})
}

// Ack records that url has acknowledged id. Duplicate acks from the same
// url do not inflate the count. Acks for an id with no tracker entry (the
// coordinator already returned and called Cleanup) are silently dropped.
func (t *AckTracker) Ack(url string, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.acks[id]
	if !ok {
		return
	}
	set[url] = struct{}{}
	t.cond.Broadcast()
}

// Count returns the number of distinct acks recorded for id.
func (t *AckTracker) Count(id uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.acks[id])
}

// Wait blocks until either the ack set for id reaches `required` entries
// (returns true) or timeout elapses (returns false). The predicate is
// re-evaluated on every wakeup in a while loop to defeat spurious
// wakeups.
func (t *AckTracker) Wait(id uint64, required int, timeout time.Duration) bool {
	if required <= 0 {
		return true
	}

	deadline := time.Now().Add(timeout)

	// A timer broadcasts the condition at the deadline so a waiter
	// blocked in cond.Wait() is guaranteed to wake up and re-check,
	// even if no further ack ever arrives.
	timer := time.AfterFunc(timeout, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer timer.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.acks[id]) < required {
		if !time.Now().Before(deadline) {
			return false
		}
		t.cond.Wait()
	}
	return true
}

// Cleanup drops the tracker entry for id. Call once the coordinator has
// returned to the caller, regardless of outcome.
func (t *AckTracker) Cleanup(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.acks, id)
}
