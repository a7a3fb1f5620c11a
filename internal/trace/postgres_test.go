package trace_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/trace"
)

// openPostgres skips unless KIROKU_TEST_DATABASE_URL points at a
// disposable Postgres instance.
func openPostgres(t *testing.T) *trace.PostgresStore {
	t.Helper()
	dsn := os.Getenv("KIROKU_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KIROKU_TEST_DATABASE_URL not set")
	}

	s, err := trace.OpenPostgres(context.Background(), dsn, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgres_AppendAndRecent(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()

	var lastID int64
	for i := range 3 {
		rec, err := s.Append(ctx, makeEntry(fmt.Sprintf("pg-%d.txt", i)))
		require.NoError(t, err)
		assert.Greater(t, rec.ID, lastID)
		lastID = rec.ID
	}

	records, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "pg-2.txt", records[0].Filename)
	for i := 1; i < len(records); i++ {
		assert.Less(t, records[i].ID, records[i-1].ID)
	}
}

func TestPostgres_Get(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()

	rec, err := s.Append(ctx, makeEntry("pg-get.pdf"))
	require.NoError(t, err)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "pg-get.pdf", got.Filename)

	_, err = s.Get(ctx, rec.ID+1_000_000)
	require.ErrorIs(t, err, trace.ErrNotFound)
}

func TestPostgres_MigrateIdempotent(t *testing.T) {
	dsn := os.Getenv("KIROKU_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KIROKU_TEST_DATABASE_URL not set")
	}

	// Opening twice must not fail: schema creation is idempotent and
	// the source column migration is additive.
	s1, err := trace.OpenPostgres(context.Background(), dsn, testLogger())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := trace.OpenPostgres(context.Background(), dsn, testLogger())
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}
