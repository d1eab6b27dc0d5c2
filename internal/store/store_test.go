package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/domain"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	require.NoError(t, db.sql.Ping())
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	db, err := Open(path, silentLog())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening keeps the schema and does not reapply migrations.
	db, err = Open(path, silentLog())
	require.NoError(t, err)
	defer db.Close()
	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestOpen_Pragmas(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "history.db"), silentLog())
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.sql.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.sql.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
	assert.Equal(t, len(migrations), db.schemaVersion())
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"runs", "run_tasks", "run_messages"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- RunStore tests, shared by both implementations ---

func sampleRun(id string, started time.Time) *domain.Run {
	return &domain.Run{
		ID:         id,
		Model:      "mistral",
		Attempt:    1,
		Outcome:    domain.RunFailed,
		Error:      "1 task failed",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Tasks: []domain.TaskResult{
			{Agent: "Scout", Status: domain.TaskOK, Output: "scouted", Duration: 1500 * time.Millisecond},
			{Agent: "Editor", Status: domain.TaskError, Error: "model not found", Duration: 20 * time.Millisecond},
		},
		Transcript: []domain.Message{
			{Sender: "system", Role: "user", Content: "Task for Scout", Timestamp: started},
			{Sender: "Scout", Role: "assistant", Content: "scouted", Timestamp: started.Add(time.Second)},
		},
	}
}

func runStores(t *testing.T) map[string]RunStore {
	return map[string]RunStore{
		"sqlite": NewSQLiteRunStore(testDB(t)),
		"memory": NewMemoryRunStore(),
	}
}

func TestRunStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)

	for name, rs := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			run := sampleRun("", started)
			require.NoError(t, rs.SaveRun(ctx, run))
			require.NotEmpty(t, run.ID)

			got, err := rs.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, run.ID, got.ID)
			assert.Equal(t, "mistral", got.Model)
			assert.Equal(t, domain.RunFailed, got.Outcome)
			assert.True(t, started.Equal(got.StartedAt))
			assert.Equal(t, 3*time.Second, got.Duration())
			require.Len(t, got.Tasks, 2)
			assert.Equal(t, "Scout", got.Tasks[0].Agent)
			assert.Equal(t, 1500*time.Millisecond, got.Tasks[0].Duration)
			assert.Equal(t, domain.TaskError, got.Tasks[1].Status)
			assert.Equal(t, "model not found", got.Tasks[1].Error)
			require.Len(t, got.Transcript, 2)
			assert.Equal(t, "Scout", got.Transcript[1].Sender)
			assert.Equal(t, "scouted", got.Transcript[1].Content)
		})
	}
}

func TestRunStore_GetNotFound(t *testing.T) {
	for name, rs := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := rs.GetRun(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRunStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	started := time.Now().UTC()

	for name, rs := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			run := sampleRun("run-1", started)
			require.NoError(t, rs.SaveRun(ctx, run))

			run.Outcome = domain.RunSucceeded
			run.Tasks = run.Tasks[:1]
			run.Transcript = nil
			require.NoError(t, rs.SaveRun(ctx, run))

			got, err := rs.GetRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, domain.RunSucceeded, got.Outcome)
			assert.Len(t, got.Tasks, 1)
			assert.Empty(t, got.Transcript)

			runs, err := rs.ListRuns(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, runs, 1)
		})
	}
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, rs := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, rs.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute))))
			}

			runs, err := rs.ListRuns(ctx, 0)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
			assert.Len(t, runs[0].Tasks, 2)
			assert.Empty(t, runs[0].Transcript)

			limited, err := rs.ListRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, limited, 2)
			assert.Equal(t, "c", limited[0].ID)
		})
	}
}

func TestMemoryRunStore_Isolation(t *testing.T) {
	ctx := context.Background()
	rs := NewMemoryRunStore()
	run := sampleRun("x", time.Now())
	require.NoError(t, rs.SaveRun(ctx, run))

	run.Tasks[0].Agent = "mutated"
	got, err := rs.GetRun(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "Scout", got.Tasks[0].Agent)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	run := &domain.Run{}
	require.NoError(t, Discard.SaveRun(ctx, run))
	assert.NotEmpty(t, run.ID)

	_, err := Discard.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	runs, err := Discard.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	rs, closer, err := New(config.StoreConfig{Driver: "sqlite"}, filepath.Join(dir, "history.db"), silentLog())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteRunStore{}, rs)
	require.NoError(t, closer.Close())
	assert.FileExists(t, filepath.Join(dir, "history.db"))

	rs, closer, err = New(config.StoreConfig{Driver: "memory"}, "", silentLog())
	require.NoError(t, err)
	assert.IsType(t, &MemoryRunStore{}, rs)
	assert.NoError(t, closer.Close())

	rs, closer, err = New(config.StoreConfig{Driver: "none"}, "", silentLog())
	require.NoError(t, err)
	assert.Equal(t, Discard, rs)
	assert.NoError(t, closer.Close())

	_, _, err = New(config.StoreConfig{Driver: "postgres"}, "", silentLog())
	assert.Error(t, err)
}
