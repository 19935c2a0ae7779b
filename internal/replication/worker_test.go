package replication

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicatedlog/internal/logstore"
)

func alwaysHealthy() *HealthMonitor {
	return NewHealthMonitor("http://unused.invalid", time.Hour, time.Second, 3, nil)
}

func TestWorkerDeliversInFIFOOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var acked []uint64
	var ackedMu sync.Mutex
	cb := func(url string, id uint64) {
		ackedMu.Lock()
		acked = append(acked, id)
		ackedMu.Unlock()
	}

	worker := NewWorker(srv.URL, alwaysHealthy(), WorkerConfig{
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     10 * time.Millisecond,
		RequestTimeout:    time.Second,
	}, cb, nil)

	go worker.Run()
	defer worker.Stop()

	for i := uint64(1); i <= 5; i++ {
		worker.Enqueue(logstore.Message{ID: i, Sequence: i, Text: "m"})
	}

	require.Eventually(t, func() bool {
		ackedMu.Lock()
		defer ackedMu.Unlock()
		return len(acked) == 5
	}, time.Second, time.Millisecond)

	ackedMu.Lock()
	defer ackedMu.Unlock()
	for i, id := range acked {
		assert.Equal(t, uint64(i+1), id)
	}
}

func TestWorkerRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	acked := make(chan uint64, 1)
	cb := func(url string, id uint64) { acked <- id }

	worker := NewWorker(srv.URL, alwaysHealthy(), WorkerConfig{
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     5 * time.Millisecond,
		RequestTimeout:    time.Second,
	}, cb, nil)

	go worker.Run()
	defer worker.Stop()

	worker.Enqueue(logstore.Message{ID: 1, Sequence: 1, Text: "m"})

	select {
	case id := <-acked:
		assert.Equal(t, uint64(1), id)
	case <-time.After(time.Second):
		t.Fatal("message was never acked")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestWorkerPausesWhileUnhealthy(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	health := NewHealthMonitor(srv.URL, time.Hour, time.Second, 1, nil)
	health.record(false) // -> Unhealthy immediately (threshold 1)

	acked := make(chan uint64, 1)
	worker := NewWorker(srv.URL, health, WorkerConfig{
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     5 * time.Millisecond,
		RequestTimeout:    time.Second,
	}, func(url string, id uint64) { acked <- id }, nil)

	go worker.Run()
	defer worker.Stop()

	worker.Enqueue(logstore.Message{ID: 1, Sequence: 1, Text: "m"})

	select {
	case <-acked:
		t.Fatal("worker delivered while secondary unhealthy")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	health.record(true) // recovers

	select {
	case id := <-acked:
		assert.Equal(t, uint64(1), id)
	case <-time.After(time.Second):
		t.Fatal("worker never resumed after recovery")
	}
}

func TestWorkerStopCancelsInFlightBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	worker := NewWorker(srv.URL, alwaysHealthy(), WorkerConfig{
		InitialRetryDelay: time.Minute, // long enough that only Stop() ends the test quickly
		MaxRetryDelay:     time.Minute,
		RequestTimeout:    time.Second,
	}, func(string, uint64) {}, nil)

	done := make(chan struct{})
	go func() {
		worker.Run()
		close(done)
	}()

	worker.Enqueue(logstore.Message{ID: 1, Sequence: 1, Text: "m"})
	time.Sleep(20 * time.Millisecond) // let it fail once and enter backoff
	worker.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop promptly during backoff wait")
	}
}
