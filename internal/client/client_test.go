package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAppendDecodesCommittedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 1, "message": "hi"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.Append(context.Background(), "hi", 1, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.ID)
	assert.Empty(t, resp.Warning)
}

func TestClientAppendSurfacesWarningOnPartialCommit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"id": 2, "message": "hi", "warning": "write concern not satisfied before timeout"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.Append(context.Background(), "hi", 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Warning)
}

func TestClientAppendReturnsAPIErrorOn400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": "message payload is required"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Append(context.Background(), "", 0, 0)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestClientTailReturnsMessagesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"messages": []WireMessage{{ID: 1, Message: "a"}, {ID: 2, Message: "b"}}})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	msgs, err := c.Tail(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Message)
}

func TestClientRegisterSecondaryPostsURL(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotURL = body["url"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	err := c.RegisterSecondary(context.Background(), "http://secondary:9000")
	require.NoError(t, err)
	assert.Equal(t, "http://secondary:9000", gotURL)
}
