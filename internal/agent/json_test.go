package agent_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/action"
	"github.com/kiroku-ai/kiroku/internal/agent"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newJSONAgent returns a JSON agent whose alerts go to the given sink.
func newJSONAgent(t *testing.T, baseURL string) *agent.JSONAgent {
	t.Helper()
	d := action.NewDispatcher(action.DispatcherConfig{
		BaseURL:        baseURL,
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: time.Second,
	}, discardLogger())
	return agent.NewJSONAgent(d, discardLogger())
}

func TestJSONAgent_ValidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no alert expected for a valid payload")
	}))
	defer srv.Close()

	a := newJSONAgent(t, srv.URL)
	res, taken := a.ProcessDetailed(context.Background(), agent.Input{
		Raw: []byte(`{"id":1,"timestamp":"t","status":"OPEN"}`),
	})

	assert.True(t, res.Valid)
	assert.Empty(t, res.Anomalies)
	assert.Equal(t, agent.JSONActionLogged, taken)
	require.NotNil(t, res.JSON)
	assert.Equal(t, json.Number("1"), res.JSON.Data["id"])
}

func TestJSONAgent_ParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("parse failures must not dispatch an alert")
	}))
	defer srv.Close()

	a := newJSONAgent(t, srv.URL)
	res, taken := a.ProcessDetailed(context.Background(), agent.Input{
		Raw: []byte(`{not json`),
	})

	assert.False(t, res.Valid)
	// Exactly one anomaly describing the parse error, never enriched
	// by field validation.
	require.Len(t, res.Anomalies, 1)
	assert.Contains(t, res.Anomalies[0], "invalid JSON")
	assert.Equal(t, agent.JSONActionParseError, taken)
	require.NotNil(t, res.JSON)
	assert.Nil(t, res.JSON.Data)
}

func TestJSONAgent_ValidationAnomalies(t *testing.T) {
	var alerts atomic.Int32
	var alertBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		alerts.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alertBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := newJSONAgent(t, srv.URL)
	res, taken := a.ProcessDetailed(context.Background(), agent.Input{
		Raw: []byte(`{"id":"x","timestamp":"t","status":"WEIRD"}`),
	})

	assert.False(t, res.Valid)
	require.Len(t, res.Anomalies, 2)
	assert.Contains(t, res.Anomalies[0], `type mismatch for "id"`)
	assert.Contains(t, res.Anomalies[1], `invalid status "WEIRD"`)

	// The agent raised its own alert, carrying data plus anomalies.
	assert.Equal(t, int32(1), alerts.Load())
	assert.Equal(t, agent.JSONActionAlertOK, taken)
	assert.Len(t, alertBody["anomalies"], 2)
	assert.NotNil(t, alertBody["data"])
}

func TestJSONAgent_MissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := newJSONAgent(t, srv.URL)
	res := a.Process(context.Background(), agent.Input{Raw: []byte(`{}`)})

	assert.False(t, res.Valid)
	require.Len(t, res.Anomalies, 3)
	assert.Contains(t, res.Anomalies[0], `missing field "id"`)
	assert.Contains(t, res.Anomalies[1], `missing field "timestamp"`)
	assert.Contains(t, res.Anomalies[2], `missing field "status"`)
}

func TestJSONAgent_NonIntegerID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := newJSONAgent(t, srv.URL)
	res := a.Process(context.Background(), agent.Input{
		Raw: []byte(`{"id":1.5,"timestamp":"t","status":"OPEN"}`),
	})

	assert.False(t, res.Valid)
	require.Len(t, res.Anomalies, 1)
	assert.Contains(t, res.Anomalies[0], `type mismatch for "id": expected integer, got number`)
}

func TestJSONAgent_AlertFailureStillReturnsResult(t *testing.T) {
	// Unreachable alert endpoint: the alert fails after retries but the
	// agent still returns its result.
	a := newJSONAgent(t, "http://127.0.0.1:0")
	res, taken := a.ProcessDetailed(context.Background(), agent.Input{
		Raw: []byte(`{"id":1,"timestamp":"t","status":"WEIRD"}`),
	})

	assert.False(t, res.Valid)
	assert.Contains(t, taken, agent.JSONActionAlertFailed)
}

func TestJSONAgent_TextFallback(t *testing.T) {
	// Raw bytes absent: the agent parses the extracted text instead.
	a := newJSONAgent(t, "http://127.0.0.1:0")
	res := a.Process(context.Background(), agent.Input{
		Text: `{"id":7,"timestamp":"t","status":"CLOSED"}`,
	})
	assert.True(t, res.Valid)
}
