package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/action"
	"github.com/kiroku-ai/kiroku/internal/agent"
	"github.com/kiroku-ai/kiroku/internal/model"
	"github.com/kiroku-ai/kiroku/internal/pipeline"
	"github.com/kiroku-ai/kiroku/internal/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubTables struct {
	rows [][][]string
	err  error
}

func (s stubTables) Tables(context.Context, string) ([][][]string, error) {
	return s.rows, s.err
}

type sinkCall struct {
	path string
	body string
}

// newRunner wires a full runner against a temp sqlite store and an
// httptest action sink, returning the runner, the store, and the call log.
func newRunner(t *testing.T, tables agent.TableExtractor) (*pipeline.Runner, trace.Store, *[]sinkCall) {
	t.Helper()

	var (
		mu    sync.Mutex
		calls []sinkCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, sinkCall{path: r.URL.Path, body: string(body)})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	logger := testLogger()
	dispatcher := action.NewDispatcher(action.DispatcherConfig{
		BaseURL:     srv.URL,
		MaxAttempts: 1,
	}, logger)
	router := action.NewRouter(dispatcher, logger)

	store, err := trace.OpenSQLite(filepath.Join(t.TempDir(), "trace.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runner := pipeline.New(
		store,
		router,
		agent.NewJSONAgent(dispatcher, logger),
		agent.NewPDFAgent(tables, logger),
		logger,
	)
	return runner, store, &calls
}

func TestRun_UrgentComplaintEmailEscalates(t *testing.T) {
	runner, store, calls := newRunner(t, stubTables{})

	res, err := runner.Run(context.Background(), model.Document{
		Filename: "angry.eml",
		Text:     "From: buyer@example.com\nThis is URGENT, I have a complaint about my order.",
	})
	require.NoError(t, err)

	assert.Equal(t, model.FormatEmail, res.Format)
	assert.Equal(t, model.IntentComplaint, res.Intent)
	require.NotNil(t, res.AgentResult.Email)
	assert.Equal(t, model.UrgencyHigh, res.AgentResult.Email.Urgency)
	assert.Equal(t, model.ToneAngry, res.AgentResult.Email.Tone)
	assert.Equal(t, model.ActionSuccess, res.Action.Status)
	assert.Equal(t, action.ActionEscalateToCRM, res.Action.Action)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/crm/escalate", (*calls)[0].path)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.TraceID, recs[0].ID)
	assert.Equal(t, action.ActionEscalateToCRM, recs[0].ActionTaken)
}

func TestRun_MalformedJSONWritesOneRecord(t *testing.T) {
	runner, store, calls := newRunner(t, stubTables{})

	res, err := runner.Run(context.Background(), model.Document{
		Filename: "payload.json",
		Raw:      []byte(`{"id": 1,`),
	})
	require.NoError(t, err)

	assert.False(t, res.AgentResult.Valid)
	require.Len(t, res.AgentResult.Anomalies, 1)
	assert.Empty(t, *calls, "parse failures must not fire alerts")

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, agent.JSONActionParseError, recs[0].ActionTaken)
}

func TestRun_InvalidJSONAlertRecorded(t *testing.T) {
	runner, store, calls := newRunner(t, stubTables{})

	res, err := runner.Run(context.Background(), model.Document{
		Filename: "payload.json",
		Raw:      []byte(`{"id": "x", "timestamp": "2026-01-01T00:00:00Z", "status": "WEIRD"}`),
	})
	require.NoError(t, err)

	assert.False(t, res.AgentResult.Valid)
	require.Len(t, *calls, 1)
	assert.Equal(t, "/risk_alert", (*calls)[0].path)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, agent.JSONActionAlertOK, recs[0].ActionTaken)
}

func TestRun_UnknownFormat(t *testing.T) {
	runner, store, calls := newRunner(t, stubTables{})

	res, err := runner.Run(context.Background(), model.Document{
		Filename: "photo.png",
		Text:     "complaint",
	})
	require.NoError(t, err)

	assert.Equal(t, model.FormatUnknown, res.Format)
	assert.False(t, res.AgentResult.Valid)
	require.Len(t, res.AgentResult.Anomalies, 1)
	assert.Contains(t, res.AgentResult.Anomalies[0], "unsupported file format")
	assert.Equal(t, model.ActionSkipped, res.Action.Status)
	assert.Empty(t, *calls)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "log_only", recs[0].ActionTaken)
}

func TestRun_PDFInvoiceOverThresholdFlagged(t *testing.T) {
	runner, store, calls := newRunner(t, stubTables{
		rows: [][][]string{{
			{"Description", "Qty", "Price"},
			{"Industrial pump", "4", "3000.00"},
		}},
	})

	res, err := runner.Run(context.Background(), model.Document{
		Filename: "invoice.pdf",
		Path:     "/tmp/invoice.pdf",
		Text:     "Invoice for industrial pumps. Total: $12,000.00",
	})
	require.NoError(t, err)

	assert.Equal(t, model.IntentInvoice, res.Intent)
	require.NotNil(t, res.AgentResult.PDF)
	assert.InDelta(t, 12000.0, res.AgentResult.PDF.InvoiceTotal, 0.001)
	assert.True(t, res.AgentResult.PDF.RiskFlag)
	assert.Equal(t, action.ActionFlagRiskInvoice, res.Action.Action)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/risk_alert", (*calls)[0].path)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, action.ActionFlagRiskInvoice, recs[0].ActionTaken)
}

func TestRunJSONWebhook(t *testing.T) {
	runner, store, _ := newRunner(t, stubTables{})

	res, err := runner.RunJSONWebhook(context.Background(),
		[]byte(`{"id": 7, "timestamp": "2026-02-02T00:00:00Z", "status": "OPEN"}`), "webhook")
	require.NoError(t, err)

	assert.True(t, res.AgentResult.Valid)
	assert.Equal(t, model.FormatJSON, res.Format)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "webhook", recs[0].Source)
	assert.Equal(t, agent.JSONActionLogged, recs[0].ActionTaken)
}

func TestRun_ConcurrentRunsOneRecordEach(t *testing.T) {
	runner, store, _ := newRunner(t, stubTables{})

	const n = 16
	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runner.Run(context.Background(), model.Document{
				Filename: "note.txt",
				Text:     "thank you for the update",
			})
			if err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, failures.Load())

	recs, err := store.Recent(context.Background(), n*2)
	require.NoError(t, err)
	assert.Len(t, recs, n)
}

func TestRun_AuditWriteSurvivesCancelledContext(t *testing.T) {
	runner, store, _ := newRunner(t, stubTables{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Give the cancelled context a moment to propagate before the run.
	time.Sleep(10 * time.Millisecond)

	res, err := runner.Run(ctx, model.Document{
		Filename: "note.txt",
		Text:     "regular note",
	})
	require.NoError(t, err)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.TraceID, recs[0].ID)
}
