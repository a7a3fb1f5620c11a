// Package action decides and delivers follow-up actions for classified
// documents. The Router holds the fixed decision table; the Dispatcher
// delivers outbound alert calls with bounded, cancellable retries.
package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// Logical endpoint paths on the alerting collaborator.
const (
	EndpointCRMEscalate     = "crm/escalate"
	EndpointRiskAlert       = "risk_alert"
	EndpointComplianceAlert = "compliance_alert"
)

// maxEchoedBody caps how much of an endpoint's response body is echoed
// into action details and the audit trace.
const maxEchoedBody = 4 * 1024

// statusError reports a non-2xx response from the alerting endpoint.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("endpoint returned status %d", e.code)
	}
	return fmt.Sprintf("endpoint returned status %d: %s", e.code, e.body)
}

// isRetriable reports whether a delivery attempt is worth repeating.
// Transport failures and 5xx responses are transient; 4xx responses are
// application errors that will not change on retry.
func isRetriable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Dispatcher posts JSON payloads to the alerting collaborator.
// Stateless per call; safe for concurrent use.
type Dispatcher struct {
	baseURL        string
	client         *http.Client
	logger         *slog.Logger
	maxAttempts    int
	baseDelay      time.Duration
	attemptTimeout time.Duration
}

// DispatcherConfig holds Dispatcher settings. Zero-value fields fall back
// to the documented defaults.
type DispatcherConfig struct {
	// BaseURL is the alerting endpoint root, e.g. "http://localhost:8000".
	BaseURL string
	// MaxAttempts is the total number of delivery attempts (default 3).
	MaxAttempts int
	// BaseDelay is the first backoff interval; it doubles per retry
	// (default 1s).
	BaseDelay time.Duration
	// AttemptTimeout bounds each individual attempt so a hung endpoint
	// cannot stall the pipeline (default 4s).
	AttemptTimeout time.Duration
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 4 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		client:         client,
		logger:         logger,
		maxAttempts:    cfg.MaxAttempts,
		baseDelay:      cfg.BaseDelay,
		attemptTimeout: cfg.AttemptTimeout,
	}
}

// Post delivers the JSON-encoded body to the named endpoint path,
// retrying with jittered exponential backoff on transient failures.
// It returns the (truncated) response body of the first 2xx response.
// The backoff sleep is an explicit attempt counter plus a cancellable
// wait, so callers can compose timeouts on ctx.
func (d *Dispatcher) Post(ctx context.Context, path string, body []byte) (string, error) {
	url := d.baseURL + "/" + strings.TrimLeft(path, "/")
	delay := d.baseDelay

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		echo, err := d.attempt(ctx, url, body)
		if err == nil {
			return echo, nil
		}
		lastErr = err

		if !isRetriable(err) || attempt == d.maxAttempts {
			break
		}

		d.logger.Warn("action dispatch failed, retrying",
			"endpoint", path,
			"attempt", attempt,
			"error", err,
		)

		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("action: dispatch %s: %w", path, ctx.Err())
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return "", fmt.Errorf("action: dispatch %s: %w", path, lastErr)
}

// attempt performs a single POST with its own timeout.
func (d *Dispatcher) attempt(ctx context.Context, url string, body []byte) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	echoed, _ := io.ReadAll(io.LimitReader(resp.Body, maxEchoedBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &statusError{code: resp.StatusCode, body: string(echoed)}
	}
	return string(echoed), nil
}
