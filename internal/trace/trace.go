// Package trace is the append-only audit trace store: every pipeline run
// persists exactly one record of what was classified, extracted, and
// dispatched. Records are immutable once written, IDs are strictly
// increasing and assigned by the store, and persistence errors always
// surface to the caller — losing the audit trail defeats the system's
// purpose.
//
// Two backends share the same semantics: SQLite (the default,
// single-file deployment) and PostgreSQL, selected by the configured
// database URL.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// ErrNotFound is returned by Get for an unknown record ID.
var ErrNotFound = errors.New("trace: record not found")

// DefaultRecentLimit caps Recent queries that pass a non-positive limit.
const DefaultRecentLimit = 100

// Store is the audit trace contract. Appends are atomic with respect to
// ID assignment: concurrent callers never receive the same ID.
type Store interface {
	// Append persists a new record, assigning its ID and timestamp.
	Append(ctx context.Context, e model.TraceEntry) (model.TraceRecord, error)

	// Recent returns up to limit records, most recent first. A
	// non-positive limit falls back to DefaultRecentLimit.
	Recent(ctx context.Context, limit int) ([]model.TraceRecord, error)

	// Get returns a single record by ID, or ErrNotFound.
	Get(ctx context.Context, id int64) (model.TraceRecord, error)

	Close() error
}

// Open selects and initializes a backend from the database URL:
// postgres:// URLs get the PostgreSQL backend, anything else is treated
// as a SQLite file path. Schema creation/migration is idempotent and
// runs once here, at process startup.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (Store, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return OpenPostgres(ctx, databaseURL, logger)
	}
	return OpenSQLite(databaseURL, logger)
}

// clampLimit applies the default cap to Recent limits.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}

// encodeResult serializes an agent result for storage.
func encodeResult(e model.TraceEntry) ([]byte, error) {
	raw, err := json.Marshal(e.AgentResult)
	if err != nil {
		return nil, fmt.Errorf("trace: encode agent result: %w", err)
	}
	return raw, nil
}
