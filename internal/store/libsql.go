package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/conduit/pkg/pipeline"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	status := run.Status
	if status == "" {
		status = RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, root_shape, status, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Pipeline, run.RootShape, string(status),
		nullStr(run.Error), timeOrNow(run.StartedAt), run.DurationMs,
	)
	if err != nil {
		return storeError("create run", err)
	}
	return nil
}

func (s *LibSQLStore) FinishRun(ctx context.Context, id string, status RunStatus, errMsg string, durationMs int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = CURRENT_TIMESTAMP, duration_ms = ?
		 WHERE id = ?`,
		string(status), nullStr(errMsg), durationMs, id,
	)
	if err != nil {
		return storeError("finish run", err)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	r := &Run{}
	var status string
	var errMsg sql.NullString
	var finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline, root_shape, status, error, started_at, finished_at, duration_ms
		 FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Pipeline, &r.RootShape, &status, &errMsg, &r.StartedAt, &finishedAt, &r.DurationMs)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, storeError("get run", err)
	}
	r.Status = RunStatus(status)
	r.Error = errMsg.String
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	return r, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.Pipeline != "" {
		where = append(where, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, pipeline, root_shape, status, error, started_at, finished_at, duration_ms FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list runs", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var status string
		var errMsg sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Pipeline, &r.RootShape, &status, &errMsg, &r.StartedAt, &finishedAt, &r.DurationMs); err != nil {
			return nil, storeError("scan run", err)
		}
		r.Status = RunStatus(status)
		r.Error = errMsg.String
		if finishedAt.Valid {
			r.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Step events ---

func (s *LibSQLStore) RecordStep(ctx context.Context, event *StepEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, step_id, position, status, error, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.StepID, event.Position, string(event.Status),
		nullStr(event.Error), event.DurationMs, timeOrNow(event.FinishedAt),
	)
	if err != nil {
		return storeError("record step", err)
	}
	return nil
}

func (s *LibSQLStore) ListSteps(ctx context.Context, runID string) ([]*StepEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, position, status, error, duration_ms, finished_at
		 FROM run_steps WHERE run_id = ? ORDER BY position ASC`, runID,
	)
	if err != nil {
		return nil, storeError("list steps", err)
	}
	defer rows.Close()

	var events []*StepEvent
	for rows.Next() {
		e := &StepEvent{}
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.StepID, &e.Position, &status, &errMsg, &e.DurationMs, &e.FinishedAt); err != nil {
			return nil, storeError("scan step", err)
		}
		e.Status = RunStatus(status)
		e.Error = errMsg.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *pipeline.Error {
	return pipeline.NewErrorf(pipeline.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *pipeline.Error {
	return pipeline.NewErrorf(pipeline.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*LibSQLStore)(nil)
