package kiroku_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku"
)

type recordingHook struct {
	ch chan kiroku.Record
}

func (h *recordingHook) OnDocumentProcessed(_ context.Context, rec kiroku.Record) error {
	h.ch <- rec
	return nil
}

func newTestApp(t *testing.T, opts ...kiroku.Option) *kiroku.App {
	t.Helper()

	t.Setenv("KIROKU_ADMIN_API_KEY", "")
	t.Setenv("KIROKU_RATE_LIMIT_RPS", "")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]kiroku.Option{
		kiroku.WithVersion("test"),
		kiroku.WithLogger(logger),
		kiroku.WithDatabaseURL(filepath.Join(t.TempDir(), "trace.db")),
	}, opts...)

	app, err := kiroku.New(opts...)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func TestAppServesHealth(t *testing.T) {
	app := newTestApp(t)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"test"`)
}

func TestAppEventHook(t *testing.T) {
	hook := &recordingHook{ch: make(chan kiroku.Record, 1)}
	app := newTestApp(t, kiroku.WithEventHook(hook))

	body := bytes.NewBufferString(`{"payload_id":"p-1","amount":42}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/json", body)
	req.Header.Set("X-Kiroku-Source", "erp-webhook")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case got := <-hook.ch:
		assert.Equal(t, "erp-webhook", got.Source)
		assert.Equal(t, "JSON", got.Format)
		assert.NotZero(t, got.ID)
		assert.NotEmpty(t, got.AgentResult)
	case <-time.After(2 * time.Second):
		t.Fatal("event hook was not invoked")
	}
}

func TestAppExtraRoutesAndMiddleware(t *testing.T) {
	app := newTestApp(t,
		kiroku.WithExtraRoutes(func(mux *http.ServeMux) {
			mux.HandleFunc("GET /v1/custom", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			})
		}),
		kiroku.WithMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Extension", "on")
				next.ServeHTTP(w, r)
			})
		}),
	)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/custom", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "on", rec.Header().Get("X-Extension"))

	// Middleware is outermost: it wraps built-in routes too.
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "on", rec.Header().Get("X-Extension"))
}
