package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"replicatedlog/internal/logstore"
)

// AckCallback is invoked exactly once per successful delivery, with the
// secondary's url and the delivered message's id.
type AckCallback func(url string, id uint64)

// WorkerConfig tunes a Worker's retry/backoff and RPC timeout.
type WorkerConfig struct {
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	RequestTimeout    time.Duration
}

// replicateWireMessage is the POST /replicate body.
type replicateWireMessage struct {
	ID        uint64 `json:"id"`
	Sequence  uint64 `json:"sequence"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Hash      string `json:"hash"`
}

// Worker is the per-secondary replication worker: an unbounded FIFO queue
// consumed by a single goroutine, so that per-replica ordering follows
// directly from enqueue order. It retries each message indefinitely with
// exponential backoff, pausing while its secondary's health is Unhealthy.
type Worker struct {
	url    string
	queue  *fifoQueue
	health *HealthMonitor
	client *http.Client
	cfg    WorkerConfig
	ack    AckCallback
	log    *zap.SugaredLogger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewWorker creates a worker for the secondary at url. Call Run in its own
// goroutine to start consuming.
func NewWorker(url string, health *HealthMonitor, cfg WorkerConfig, ack AckCallback, log *zap.SugaredLogger) *Worker {
	return &Worker{
		url:    url,
		queue:  newFifoQueue(),
		health: health,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:    cfg,
		ack:    ack,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Enqueue appends m to the worker's queue. Non-blocking, thread-safe;
// multiple concurrent callers may enqueue without synchronising among
// themselves.
func (w *Worker) Enqueue(m logstore.Message) {
	w.queue.push(m)
}

// Run is the worker's single serial consumer loop. It returns promptly
// once Stop has been called; messages still queued at that point are not
// delivered.
func (w *Worker) Run() {
	for {
		m, ok := w.queue.pop()
		if !ok {
			return
		}
		if !w.deliverWithRetry(m) {
			return // stopped mid-delivery
		}
	}
}

// deliverWithRetry runs the per-message algorithm from spec.md §4.2.
// Returns false if it gave up because the worker was stopped.
func (w *Worker) deliverWithRetry(m logstore.Message) bool {
	delay := w.cfg.InitialRetryDelay
	attempt := 0

	for {
		if !w.health.WaitHealthy() {
			return false
		}
		select {
		case <-w.stopCh:
			return false
		default:
		}

		if w.attemptDeliver(m) {
			w.ack(w.url, m.ID)
			return true
		}

		attempt++
		wait := jitter(delay)
		if w.log != nil {
			w.log.Infow("replication retry scheduled", "url", w.url, "message_id", m.ID, "attempt", attempt, "delay", wait)
		}

		select {
		case <-time.After(wait):
		case <-w.stopCh:
			return false
		}

		delay *= 2
		if delay > w.cfg.MaxRetryDelay {
			delay = w.cfg.MaxRetryDelay
		}
	}
}

// attemptDeliver issues a single replicate RPC. Both "replicated" and
// "duplicate" responses (HTTP 200) count as success — a duplicate means
// an earlier attempt already landed and this is a harmless re-delivery.
func (w *Worker) attemptDeliver(m logstore.Message) bool {
	body, err := json.Marshal(replicateWireMessage{
		ID:        m.ID,
		Sequence:  m.Sequence,
		Message:   m.Text,
		Timestamp: m.Timestamp,
		Hash:      m.ContentHash,
	})
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+"/replicate", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		if w.log != nil {
			w.log.Warnw("replicate RPC failed", "url", w.url, "message_id", m.ID, "err", err)
		}
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	if !ok && w.log != nil {
		w.log.Warnw("replicate RPC rejected", "url", w.url, "message_id", m.ID, "status", resp.StatusCode)
	}
	return ok
}

// Stop halts the worker: the queue stops accepting new waits, any
// in-flight backoff wait is cancelled immediately, and Run returns.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.queue.close()
	})
}

// jitter adds up to ±20% jitter to d, matching the original master's
// calculate_retry_delay, to avoid synchronised retry storms across
// workers that all started backing off at the same moment.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	delta := float64(d) * 0.4 * (rand.Float64() - 0.5)
	out := time.Duration(float64(d) + delta)
	if out < 0 {
		return 0
	}
	return out
}
