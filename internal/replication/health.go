package replication

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the master's view of a secondary's health.
type Status int

const (
	// StatusUnknown is never actually observed in steady state: a
	// HealthMonitor starts Healthy (optimistic) so startup is never
	// blocked on the first probe.
	StatusUnknown Status = iota
	StatusHealthy
	StatusSuspected
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusSuspected:
		return "suspected"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// HealthMonitor runs a heartbeat loop against one secondary and exposes
// its current status as a broadcast condition so replication workers can
// wait on it instead of polling.
type HealthMonitor struct {
	url       string
	client    *http.Client
	interval  time.Duration
	timeout   time.Duration
	threshold int
	log       *zap.SugaredLogger

	mu            sync.Mutex
	cond          *sync.Cond
	status        Status
	failureCount  int
	lastHeartbeat time.Time
	stopped       bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHealthMonitor creates a monitor for the secondary at url. It does not
// start probing until Run is called.
func NewHealthMonitor(url string, interval, timeout time.Duration, unhealthyThreshold int, log *zap.SugaredLogger) *HealthMonitor {
	m := &HealthMonitor{
		url:       url,
		client:    &http.Client{Timeout: timeout},
		interval:  interval,
		timeout:   timeout,
		threshold: unhealthyThreshold,
		log:       log,
		status:    StatusHealthy, // optimistic: no probe yet, don't block startup
		stopCh:    make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Run blocks, probing the secondary every interval until Stop is called.
// Call it in its own goroutine.
func (m *HealthMonitor) Run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeOnce()
		}
	}
}

func (m *HealthMonitor) probeOnce() {
	req, err := http.NewRequest(http.MethodGet, m.url+"/health", nil)
	var ok bool
	if err == nil {
		resp, reqErr := m.client.Do(req)
		if reqErr == nil {
			resp.Body.Close()
			ok = resp.StatusCode >= 200 && resp.StatusCode < 300
		}
	}
	m.record(ok)
}

// record applies the observed success/failure to the state machine from
// spec.md §4.3 and broadcasts any transition.
func (m *HealthMonitor) record(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.status
	if success {
		m.failureCount = 0
		m.status = StatusHealthy
		m.lastHeartbeat = time.Now()
	} else {
		m.failureCount++
		if m.failureCount < m.threshold {
			m.status = StatusSuspected
		} else {
			m.status = StatusUnhealthy
		}
	}

	if prev != m.status {
		if m.log != nil {
			m.log.Infow("secondary health transition", "url", m.url, "from", prev, "to", m.status, "failures", m.failureCount)
		}
		m.cond.Broadcast()
	}
}

// Status returns the current status.
func (m *HealthMonitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Snapshot returns a point-in-time view suitable for the master's /health
// endpoint.
type Snapshot struct {
	URL           string
	Status        Status
	LastHeartbeat time.Time
	FailureCount  int
}

// Snapshot returns the current state for reporting.
func (m *HealthMonitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{URL: m.url, Status: m.status, LastHeartbeat: m.lastHeartbeat, FailureCount: m.failureCount}
}

// WaitHealthy blocks until the secondary is not Unhealthy, or the monitor
// is stopped. Suspected does not pause delivery — only Unhealthy does, per
// spec.md §4.3: this avoids a single flapping secondary deadlocking
// retries that would otherwise, by themselves, tame the flap via backoff.
// Returns false if it returned because of a stop rather than recovery.
func (m *HealthMonitor) WaitHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.status == StatusUnhealthy && !m.stopped {
		m.cond.Wait()
	}
	return !m.stopped
}

// Stop halts the heartbeat loop and wakes any worker blocked in
// WaitHealthy.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		m.stopped = true
		m.cond.Broadcast()
		m.mu.Unlock()
	})
}
