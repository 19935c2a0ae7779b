package replication

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"replicatedlog/internal/apperr"
	"replicatedlog/internal/logstore"
)

// ReplicateStatus is the outcome of a single Replicate call.
type ReplicateStatus int

const (
	StatusCommitted ReplicateStatus = iota
	StatusDuplicate
)

// ReceiverConfig carries the secondary-side test hooks from spec.md §6:
// an artificial per-request delay and a post-commit error-injection rate.
type ReceiverConfig struct {
	ServerID         string
	ReplicationDelay time.Duration
	ErrorRate        float64
}

// Receiver is the secondary's total-order reconstruction and dedup logic.
// Per spec.md §5 the pending buffer (+ next-expected sequence) and the
// committed log use separate mutexes so GetLog stays cheap: it takes only
// the committed log's read lock and never waits on the pending buffer.
// Health also reads next-expected under the order lock, so it can wait
// behind an in-progress insert.
type Receiver struct {
	cfg ReceiverConfig
	log *zap.SugaredLogger

	dedupMu sync.Mutex
	dedup   map[string]struct{}

	orderMu      sync.Mutex
	pending      map[uint64]logstore.Message
	nextExpected uint64

	committed *logstore.Store
}

// ErrSimulatedFailure is returned by Replicate when the error-injection
// hook fires. It is returned *after* the message has already been
// committed — callers (the HTTP handler) must still report success to
// the underlying commit and only turn this into a 500 at the transport
// layer, exactly as the failure-injection hook in spec.md §4.6 requires:
// retries will re-deliver the same message, dedup will catch it, and the
// second attempt succeeds. It maps to a 500 at the transport layer, not a
// 4xx — the request itself was well-formed.
var ErrSimulatedFailure = errors.New("simulated post-commit failure")

// NewReceiver creates a receiver. next_expected starts at 1.
func NewReceiver(cfg ReceiverConfig, log *zap.SugaredLogger) *Receiver {
	return &Receiver{
		cfg:          cfg,
		log:          log,
		dedup:        make(map[string]struct{}),
		pending:      make(map[uint64]logstore.Message),
		nextExpected: 1,
		committed:    logstore.New(),
	}
}

// Replicate validates, dedups, and total-orders an incoming message, per
// spec.md §4.6. totalMessages reflects the committed log length at the
// time of return.
func (r *Receiver) Replicate(msg logstore.Message) (status ReplicateStatus, totalMessages int, err error) {
	if msg.ID == 0 || msg.Sequence == 0 || msg.Text == "" || msg.Timestamp == "" || msg.ContentHash == "" {
		return 0, 0, apperr.BadRequest("replicate: missing required field")
	}

	// Decided before the delay/processing, fired only after a successful
	// commit — mirrors the original secondary's handle_replication.
	willErrorAfter := r.cfg.ErrorRate > 0 && rand.Float64() < r.cfg.ErrorRate

	if r.cfg.ReplicationDelay > 0 {
		time.Sleep(r.cfg.ReplicationDelay)
	}

	if r.isDuplicate(msg.ContentHash) {
		if r.log != nil {
			r.log.Infow("duplicate replicate suppressed", "message_id", msg.ID, "hash", msg.ContentHash[:8])
		}
		return StatusDuplicate, r.committed.Len(), nil
	}

	r.insertInOrder(msg)
	total := r.committed.Len()

	if willErrorAfter {
		if r.log != nil {
			r.log.Infow("injecting simulated post-commit failure", "message_id", msg.ID)
		}
		return StatusCommitted, total, ErrSimulatedFailure
	}

	return StatusCommitted, total, nil
}

func (r *Receiver) isDuplicate(hash string) bool {
	r.dedupMu.Lock()
	defer r.dedupMu.Unlock()

	if _, seen := r.dedup[hash]; seen {
		return true
	}
	r.dedup[hash] = struct{}{}
	return false
}

// insertInOrder implements the total-order inserter rules from spec.md
// §4.6 item 4.
func (r *Receiver) insertInOrder(msg logstore.Message) {
	r.orderMu.Lock()
	defer r.orderMu.Unlock()

	switch {
	case msg.Sequence == r.nextExpected:
		if err := r.committed.Append(msg); err != nil {
			// Cannot happen given the sequence check above, but keep the
			// store's own invariant check authoritative.
			if r.log != nil {
				r.log.Errorw("committed append rejected despite matching sequence", "err", err)
			}
			return
		}
		r.nextExpected++
		r.drainPending()

	case msg.Sequence > r.nextExpected:
		r.pending[msg.Sequence] = msg

	default:
		// sequence < nextExpected: already committed. Can only happen if
		// dedup missed, which the invariant rules out — ignore.
		if r.log != nil {
			r.log.Warnw("ignoring message from the past", "message_id", msg.ID, "sequence", msg.Sequence, "next_expected", r.nextExpected)
		}
	}
}

// drainPending moves any now-contiguous buffered messages into the
// committed log. Caller must hold orderMu.
func (r *Receiver) drainPending() {
	for {
		next, ok := r.pending[r.nextExpected]
		if !ok {
			return
		}
		if err := r.committed.Append(next); err != nil {
			if r.log != nil {
				r.log.Errorw("pending drain append failed", "err", err)
			}
			return
		}
		delete(r.pending, r.nextExpected)
		r.nextExpected++
	}
}

// GetLog returns the committed log.
func (r *Receiver) GetLog() []logstore.Message {
	return r.committed.Snapshot()
}

// HealthInfo is the secondary's /health payload.
type HealthInfo struct {
	Status       string
	ServerID     string
	MessageCount int
	LastSequence uint64
	NextExpected uint64
}

// Health reports this secondary's current replication progress.
func (r *Receiver) Health() HealthInfo {
	r.orderMu.Lock()
	next := r.nextExpected
	r.orderMu.Unlock()

	return HealthInfo{
		Status:       "healthy",
		ServerID:     r.cfg.ServerID,
		MessageCount: r.committed.Len(),
		LastSequence: r.committed.LastSequence(),
		NextExpected: next,
	}
}
