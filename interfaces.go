package kiroku

import (
	"context"
	"net/http"
)

// EventHook receives async notifications after each document run has
// been recorded in the audit trace. Multiple hooks may be registered via
// multiple WithEventHook calls. Hook methods run in goroutines — they
// must not block indefinitely. Failures are logged but do not fail the
// originating run.
type EventHook interface {
	OnDocumentProcessed(ctx context.Context, rec Record) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extension routes share the mux, auth chain, and OTEL instrumentation
// with the built-in routes. The function is called once during New()
// after all built-in routes are registered.
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including
// /healthz. Use for custom logging or cross-cutting headers.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
