package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicatedlog/internal/replication"
)

func newTestMasterRouter() *MasterHandler {
	coord := replication.NewCoordinator(replication.CoordinatorConfig{
		DefaultWriteConcernTimeout:  200 * time.Millisecond,
		Worker:                      replication.WorkerConfig{InitialRetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond, RequestTimeout: time.Second},
		HeartbeatInterval:           time.Hour,
		HeartbeatTimeout:            time.Second,
		HeartbeatUnhealthyThreshold: 3,
	}, nil)
	return NewMasterHandler(coord, nil)
}

func TestMasterAppendReturns201OnCommit(t *testing.T) {
	h := newTestMasterRouter()
	r := NewRouter(zapNop())
	h.Register(r)

	body, _ := json.Marshal(map[string]any{"message": "hello", "w": 1})
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello", resp["message"])
	assert.EqualValues(t, 1, resp["id"])
}

func TestMasterAppendRejectsMissingMessage(t *testing.T) {
	h := newTestMasterRouter()
	r := NewRouter(zapNop())
	h.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMasterListMessagesReturnsAppendedOrder(t *testing.T) {
	h := newTestMasterRouter()
	r := NewRouter(zapNop())
	h.Register(r)

	for _, m := range []string{"a", "b", "c"} {
		body, _ := json.Marshal(map[string]any{"message": m, "w": 1})
		req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Messages []struct {
			ID      uint64 `json:"id"`
			Message string `json:"message"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "a", resp.Messages[0].Message)
	assert.Equal(t, "c", resp.Messages[2].Message)
}

func TestMasterHealthReportsNoSecondariesInitially(t *testing.T) {
	h := newTestMasterRouter()
	r := NewRouter(zapNop())
	h.Register(r)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "master", resp["role"])
	assert.Empty(t, resp["secondaries"])
}
