package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// PostgresStore is the PostgreSQL audit trace backend, for deployments
// that already run Postgres. Semantics are identical to SQLite: BIGSERIAL
// assigns strictly increasing ids inside the insert.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn and runs migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("trace: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("trace: ping: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("trace: migrate: %w", err)
	}
	return s, nil
}

// migrate creates the trace table and applies additive column changes.
// Idempotent; safe to run on every startup.
func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trace (
			id           BIGSERIAL PRIMARY KEY,
			timestamp    TIMESTAMPTZ NOT NULL,
			filename     TEXT NOT NULL,
			file_format  TEXT NOT NULL,
			intent       TEXT NOT NULL,
			agent_result JSONB NOT NULL,
			action_taken TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create trace table: %w", err)
	}

	// Additive only: schemas created before the source column existed
	// pick it up here without rewriting rows.
	if _, err := s.pool.Exec(ctx,
		`ALTER TABLE trace ADD COLUMN IF NOT EXISTS source TEXT`,
	); err != nil {
		return fmt.Errorf("add source column: %w", err)
	}
	return nil
}

// isRetriable returns true for Postgres error codes that indicate a
// transient conflict.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// withRetry executes fn, retrying up to maxRetries times on transient
// conflicts with jittered exponential backoff.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, e model.TraceEntry) (model.TraceRecord, error) {
	raw, err := encodeResult(e)
	if err != nil {
		return model.TraceRecord{}, err
	}

	now := time.Now().UTC()
	var source *string
	if e.Source != "" {
		source = &e.Source
	}

	var id int64
	err = withRetry(ctx, 3, 50*time.Millisecond, func() error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO trace (timestamp, source, filename, file_format, intent, agent_result, action_taken)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
			 RETURNING id`,
			now, source, e.Filename, string(e.Format), string(e.Intent), raw, e.ActionTaken,
		).Scan(&id)
	})
	if err != nil {
		return model.TraceRecord{}, fmt.Errorf("trace: append: %w", err)
	}

	return model.TraceRecord{
		ID:          id,
		Timestamp:   now,
		Source:      e.Source,
		Filename:    e.Filename,
		Format:      e.Format,
		Intent:      e.Intent,
		AgentResult: raw,
		ActionTaken: e.ActionTaken,
	}, nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]model.TraceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, source, filename, file_format, intent, agent_result, action_taken
		 FROM trace ORDER BY id DESC LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("trace: recent: %w", err)
	}
	defer rows.Close()

	records := []model.TraceRecord{}
	for rows.Next() {
		var (
			r      model.TraceRecord
			source *string
			result []byte
		)
		if err := rows.Scan(&r.ID, &r.Timestamp, &source, &r.Filename, &r.Format, &r.Intent, &result, &r.ActionTaken); err != nil {
			return nil, fmt.Errorf("trace: scan record: %w", err)
		}
		if source != nil {
			r.Source = *source
		}
		r.AgentResult = result
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trace: recent rows: %w", err)
	}
	return records, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id int64) (model.TraceRecord, error) {
	var (
		r      model.TraceRecord
		source *string
		result []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, timestamp, source, filename, file_format, intent, agent_result, action_taken
		 FROM trace WHERE id = $1`, id,
	).Scan(&r.ID, &r.Timestamp, &source, &r.Filename, &r.Format, &r.Intent, &result, &r.ActionTaken)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TraceRecord{}, ErrNotFound
	}
	if err != nil {
		return model.TraceRecord{}, fmt.Errorf("trace: get %d: %w", id, err)
	}
	if source != nil {
		r.Source = *source
	}
	r.AgentResult = result
	return r, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
