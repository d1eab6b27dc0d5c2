package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/hyperloop/internal/config"
	"github.com/soyeahso/hyperloop/internal/domain"
	"github.com/soyeahso/hyperloop/internal/logging"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// RunStore records swarm runs.
type RunStore interface {
	// SaveRun inserts or replaces a run. An empty ID is filled in.
	SaveRun(ctx context.Context, run *domain.Run) error
	// GetRun returns a run with its tasks and transcript.
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	// ListRuns returns the most recent runs first, with tasks but without
	// transcripts. limit <= 0 returns all runs.
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

// New opens the run store selected by cfg. defaultPath is used for SQLite
// when cfg.Path is empty. The closer is never nil.
func New(cfg config.StoreConfig, defaultPath string, log *logging.Logger) (RunStore, io.Closer, error) {
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = defaultPath
		}
		db, err := Open(path, log)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteRunStore(db), db, nil
	case "memory":
		return NewMemoryRunStore(), nopCloser{}, nil
	case "none":
		return Discard, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newRunID() string { return uuid.New().String() }

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

// SQLiteRunStore implements RunStore backed by SQLite.
type SQLiteRunStore struct {
	db *DB
}

// NewSQLiteRunStore creates a run store using the given database.
func NewSQLiteRunStore(db *DB) *SQLiteRunStore {
	return &SQLiteRunStore{db: db}
}

// SaveRun implements RunStore.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, run *domain.Run) error {
	if run.ID == "" {
		run.ID = newRunID()
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save run: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"run_messages", "run_tasks"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, run.ID); err != nil {
			return fmt.Errorf("replacing run %s: %w", run.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("replacing run %s: %w", run.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, model, attempt, outcome, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Model, run.Attempt, string(run.Outcome), run.Error,
		formatTime(run.StartedAt), formatTime(run.FinishedAt),
	); err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	for i, t := range run.Tasks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_tasks (run_id, position, agent, status, output, error, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, t.Agent, string(t.Status), t.Output, t.Error, t.Duration.Milliseconds(),
		); err != nil {
			return fmt.Errorf("inserting task %s/%s: %w", run.ID, t.Agent, err)
		}
	}

	for _, m := range run.Transcript {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_messages (run_id, sender, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
			run.ID, m.Sender, m.Role, m.Content, formatTime(m.Timestamp),
		); err != nil {
			return fmt.Errorf("inserting message for run %s: %w", run.ID, err)
		}
	}

	return tx.Commit()
}

// GetRun implements RunStore.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT id, model, attempt, outcome, error, started_at, finished_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if run.Tasks, err = s.tasks(ctx, run.ID); err != nil {
		return nil, err
	}
	if run.Transcript, err = s.transcript(ctx, run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns implements RunStore.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, model, attempt, outcome, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Tasks, err = s.tasks(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*domain.Run, error) {
	var run domain.Run
	var outcome, startedAt, finishedAt string
	if err := sc.Scan(&run.ID, &run.Model, &run.Attempt, &outcome, &run.Error, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Outcome = domain.RunOutcome(outcome)
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	return &run, nil
}

func (s *SQLiteRunStore) tasks(ctx context.Context, runID string) ([]domain.TaskResult, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT agent, status, output, error, duration_ms FROM run_tasks WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading tasks for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.TaskResult
	for rows.Next() {
		var t domain.TaskResult
		var status string
		var ms int64
		if err := rows.Scan(&t.Agent, &status, &t.Output, &t.Error, &ms); err != nil {
			return nil, err
		}
		t.Status = domain.TaskStatus(status)
		t.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteRunStore) transcript(ctx context.Context, runID string) ([]domain.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT sender, role, content, timestamp FROM run_messages WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading transcript for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var ts string
		if err := rows.Scan(&m.Sender, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = parseTime(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}
