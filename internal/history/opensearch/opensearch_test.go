package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/hwman/internal/history"
)

func TestSinkSend(t *testing.T) {
	var receivedBody []byte
	var receivedPath string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedPath = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "hwman-history")
	ev := history.Event{
		Kind:       history.KindServiceEvent,
		OccurredAt: time.Now().UTC(),
		Service:    "camera",
		Action:     "start",
		Principal:  "alice",
	}
	require.NoError(t, sink.Send(context.Background(), ev))

	assert.Equal(t, http.MethodPost, receivedMethod)
	assert.Equal(t, "/hwman-history/_doc", receivedPath)

	var got map[string]any
	require.NoError(t, json.Unmarshal(receivedBody, &got))
	assert.Equal(t, string(history.KindServiceEvent), got["kind"])
	assert.Equal(t, "camera", got["service"])
	assert.Equal(t, "alice", got["principal"])
}

func TestSinkSendErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := New(server.URL, "idx")
	err := sink.Send(context.Background(), history.Event{Kind: history.KindCertIssued})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opensearch sink status 400")
}

func TestSinkTrimsTrailingSlash(t *testing.T) {
	var receivedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.String()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := New(server.URL+"/", "events")
	require.NoError(t, sink.Send(context.Background(), history.Event{Kind: history.KindServiceEvent}))
	assert.Equal(t, "/events/_doc", receivedPath)
}
