// Package replication implements the master's per-secondary replication
// pipeline (Worker), health gating (HealthMonitor), write-concern
// wait/notify (AckTracker), the append coordinator and secondary registry
// (Coordinator), and the secondary's total-order receiver (Receiver).
package replication

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"replicatedlog/internal/apperr"
	"replicatedlog/internal/logstore"
)

// AppendStatus is the outcome of a coordinator Append call.
type AppendStatus int

const (
	AppendCommitted AppendStatus = iota
	AppendPartiallyCommitted
)

// CoordinatorConfig tunes the coordinator and everything it spawns per
// secondary.
type CoordinatorConfig struct {
	DefaultWriteConcernTimeout  time.Duration
	Worker                      WorkerConfig
	HeartbeatInterval           time.Duration
	HeartbeatTimeout            time.Duration
	HeartbeatUnhealthyThreshold int
}

// secondaryEntry bundles everything the master tracks for one registered
// secondary.
type secondaryEntry struct {
	url          string
	worker       *Worker
	health       *HealthMonitor
	lastSequence uint64 // advances on ack; drives catch-up's starting point
}

// Coordinator is the master's append coordinator, secondary registry, and
// catch-up driver rolled into one, per spec.md §4.1 and §4.5. The log
// store, the registry map, and the ack tracker are each protected by
// their own lock — concurrent appends serialise only on sequence
// assignment (inside logStore), never on the write-concern wait itself.
type Coordinator struct {
	cfg CoordinatorConfig
	log *zap.SugaredLogger

	logStore *logstore.Store
	acks     *AckTracker

	mu       sync.RWMutex
	registry map[string]*secondaryEntry
}

// NewCoordinator creates a coordinator with no secondaries registered.
func NewCoordinator(cfg CoordinatorConfig, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		log:      log,
		logStore: logstore.New(),
		acks:     NewAckTracker(),
		registry: make(map[string]*secondaryEntry),
	}
}

// Append assigns a sequence, fans the message out to every secondary, and
// waits for write-concern `w` to be satisfied or `timeout` to elapse, per
// spec.md §4.1. timeout of zero uses the coordinator's configured default.
func (c *Coordinator) Append(payload []byte, w int, timeout time.Duration) (logstore.Message, AppendStatus, error) {
	if len(payload) == 0 {
		return logstore.Message{}, 0, apperr.InvalidArgument("message payload is required")
	}

	n := c.secondaryCount()
	maxW := n + 1
	if w <= 0 {
		w = maxW
	}
	if w < 1 || w > maxW {
		return logstore.Message{}, 0, apperr.InvalidArgument("write concern out of range")
	}
	if timeout <= 0 {
		timeout = c.cfg.DefaultWriteConcernTimeout
	}

	msg := c.logStore.AppendNew(payload)

	// Fan out to every secondary regardless of w: every secondary must
	// eventually see every message.
	c.mu.RLock()
	for _, e := range c.registry {
		e.worker.Enqueue(msg)
	}
	c.mu.RUnlock()

	if w == 1 {
		return msg, AppendCommitted, nil
	}

	required := w - 1
	c.acks.Init(msg.ID)
	defer c.acks.Cleanup(msg.ID)

	if c.acks.Wait(msg.ID, required, timeout) {
		return msg, AppendCommitted, nil
	}
	return msg, AppendPartiallyCommitted, nil
}

// ackCallback is wired into every Worker as its AckCallback. It notifies
// the ack tracker (waking any Append blocked on write concern) and
// advances the secondary's recorded last_sequence, which is what
// triggerCatchUp uses to compute what a rejoining secondary has missed.
func (c *Coordinator) ackCallback(url string, id uint64) {
	c.acks.Ack(url, id)

	c.mu.Lock()
	if e, ok := c.registry[url]; ok && id > e.lastSequence {
		e.lastSequence = id
	}
	c.mu.Unlock()
}

// GetLog returns a snapshot of the committed log.
func (c *Coordinator) GetLog() []logstore.Message {
	return c.logStore.Snapshot()
}

// RegisterSecondary adds url if new, starts its worker and health
// monitor, and (idempotently, on every call including re-registration)
// triggers catch-up. Returns whether this was a first-time registration.
func (c *Coordinator) RegisterSecondary(url string) bool {
	c.mu.Lock()
	entry, exists := c.registry[url]
	isNew := !exists
	if isNew {
		health := NewHealthMonitor(url, c.cfg.HeartbeatInterval, c.cfg.HeartbeatTimeout, c.cfg.HeartbeatUnhealthyThreshold, c.log)
		worker := NewWorker(url, health, c.cfg.Worker, c.ackCallback, c.log)
		entry = &secondaryEntry{url: url, worker: worker, health: health}
		c.registry[url] = entry

		go health.Run()
		go worker.Run()
	}
	c.mu.Unlock()

	if c.log != nil {
		c.log.Infow("secondary registered", "url", url, "new", isNew)
	}

	c.triggerCatchUp(entry)
	return isNew
}

// triggerCatchUp enqueues every message the secondary hasn't yet acked,
// per spec.md §4.5. It shares the worker's ordinary retry path — there is
// no separate catch-up protocol, just an enqueue of the backlog.
func (c *Coordinator) triggerCatchUp(e *secondaryEntry) {
	c.mu.RLock()
	lastSeq := e.lastSequence
	c.mu.RUnlock()

	missed := c.logStore.After(lastSeq)
	if len(missed) == 0 {
		return
	}
	if c.log != nil {
		c.log.Infow("replaying missed messages", "url", e.url, "count", len(missed), "from_sequence", lastSeq)
	}
	for _, m := range missed {
		e.worker.Enqueue(m)
	}
}

// SecondaryHealth is one row of the master's /health report.
type SecondaryHealth struct {
	URL           string
	Status        Status
	LastHeartbeat time.Time
	FailureCount  int
}

// HealthReport returns the current health of every registered secondary.
func (c *Coordinator) HealthReport() []SecondaryHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]SecondaryHealth, 0, len(c.registry))
	for _, e := range c.registry {
		snap := e.health.Snapshot()
		out = append(out, SecondaryHealth{
			URL:           snap.URL,
			Status:        snap.Status,
			LastHeartbeat: snap.LastHeartbeat,
			FailureCount:  snap.FailureCount,
		})
	}
	return out
}

func (c *Coordinator) secondaryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.registry)
}

// Shutdown stops every replication worker and health monitor. Must be
// called once, at process shutdown.
func (c *Coordinator) Shutdown() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.registry {
		e.worker.Stop()
		e.health.Stop()
	}
}
