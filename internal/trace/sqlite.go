package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// SQLiteStore is the default single-file audit trace backend.
// SQLite serializes writers; with busy_timeout set on every pooled
// connection, concurrent appends queue for the write lock instead of
// failing with SQLITE_BUSY, and AUTOINCREMENT ids are assigned inside
// the insert so they never collide.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the trace database at path and runs
// migrations. The pragmas ride on the DSN because database/sql opens
// fresh connections under load and a plain Exec would configure only
// one of them. WAL keeps concurrent Recent readers off the write path;
// busy_timeout bounds writer contention instead of failing fast.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("trace: open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("trace: migrate: %w", err)
	}
	return s, nil
}

// currentSchemaVersion is bumped whenever the schema changes. Migrations
// are additive only — the trace is append-only and a destructive
// migration would amount to rewriting history.
const currentSchemaVersion = 2

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: initial trace table
		s.migrateV2, // v1 → v2: add optional source column
	}

	for i := version; i < len(migrations); i++ {
		s.logger.Info("running trace migration", "from", i, "to", i+1)
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *SQLiteStore) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trace (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp    TEXT NOT NULL,
		filename     TEXT NOT NULL,
		file_format  TEXT NOT NULL,
		intent       TEXT NOT NULL,
		agent_result TEXT NOT NULL,
		action_taken TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trace_timestamp ON trace(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds the optional source column. Pre-existing databases
// created at v1 pick it up here without touching existing rows.
func (s *SQLiteStore) migrateV2() error {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('trace') WHERE name = 'source'`,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = s.db.Exec(`ALTER TABLE trace ADD COLUMN source TEXT`)
	return err
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, e model.TraceEntry) (model.TraceRecord, error) {
	raw, err := encodeResult(e)
	if err != nil {
		return model.TraceRecord{}, err
	}

	now := time.Now().UTC()
	var source any
	if e.Source != "" {
		source = e.Source
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trace (timestamp, source, filename, file_format, intent, agent_result, action_taken)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		now.Format(time.RFC3339Nano), source, e.Filename, string(e.Format), string(e.Intent), string(raw), e.ActionTaken,
	)
	if err != nil {
		return model.TraceRecord{}, fmt.Errorf("trace: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.TraceRecord{}, fmt.Errorf("trace: append id: %w", err)
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
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]model.TraceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, source, filename, file_format, intent, agent_result, action_taken
		 FROM trace ORDER BY id DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("trace: recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []model.TraceRecord{}
	for rows.Next() {
		var (
			r      model.TraceRecord
			ts     string
			source sql.NullString
			result string
		)
		if err := rows.Scan(&r.ID, &ts, &source, &r.Filename, &r.Format, &r.Intent, &result, &r.ActionTaken); err != nil {
			return nil, fmt.Errorf("trace: scan record: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("trace: parse timestamp %q: %w", ts, err)
		}
		r.Timestamp = parsed
		r.Source = source.String
		r.AgentResult = []byte(result)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trace: recent rows: %w", err)
	}
	return records, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (model.TraceRecord, error) {
	var (
		r      model.TraceRecord
		ts     string
		source sql.NullString
		result string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, timestamp, source, filename, file_format, intent, agent_result, action_taken
		 FROM trace WHERE id = ?`, id,
	).Scan(&r.ID, &ts, &source, &r.Filename, &r.Format, &r.Intent, &result, &r.ActionTaken)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TraceRecord{}, ErrNotFound
	}
	if err != nil {
		return model.TraceRecord{}, fmt.Errorf("trace: get %d: %w", id, err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.TraceRecord{}, fmt.Errorf("trace: parse timestamp %q: %w", ts, err)
	}
	r.Timestamp = parsed
	r.Source = source.String
	r.AgentResult = []byte(result)
	return r, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
