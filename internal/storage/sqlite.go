package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"agentdeck/internal/schedule"
	logx "agentdeck/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single
	// connection also serializes task mutations, so two racing writers can
	// never interleave partial rows.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Tasks ----

const taskColumns = `id, name, prompt, schedule_kind, schedule_payload, timezone, enabled,
	project_path, agent, created_at, updated_at, last_run_at, next_run_at, last_error`

func (s *sqliteStore) CreateTask(ctx context.Context, t *ScheduledTask) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.Prompt, string(t.Kind), string(t.Payload), t.Timezone, boolInt(t.Enabled),
		nullStr(t.ProjectPath), nullStr(t.Agent),
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
		nullMillis(t.LastRunAt), nullMillis(t.NextRunAt), nullStr(t.LastError),
	)
	return err
}

// UpdateTask rewrites every mutable field in one statement. Last writer wins,
// but the row is always internally consistent.
func (s *sqliteStore) UpdateTask(ctx context.Context, t *ScheduledTask) error {
	t.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET
			name = ?, prompt = ?, schedule_kind = ?, schedule_payload = ?, timezone = ?,
			enabled = ?, project_path = ?, agent = ?, updated_at = ?,
			last_run_at = ?, next_run_at = ?, last_error = ?
		 WHERE id = ?`,
		t.Name, t.Prompt, string(t.Kind), string(t.Payload), t.Timezone,
		boolInt(t.Enabled), nullStr(t.ProjectPath), nullStr(t.Agent), t.UpdatedAt.UnixMilli(),
		nullMillis(t.LastRunAt), nullMillis(t.NextRunAt), nullStr(t.LastError),
		t.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) ListTasks(ctx context.Context) ([]*ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	// Run history intentionally survives the task.
	return nil
}

func (s *sqliteStore) DueTasks(ctx context.Context, asOf time.Time) ([]*ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY next_run_at ASC`,
		asOf.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ---- Runs ----

func (s *sqliteStore) InsertRun(ctx context.Context, r *TaskRun) error {
	if r.TriggeredAt.IsZero() {
		r.TriggeredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs(id, task_id, triggered_at, status, error)
		 VALUES(?,?,?,?,?)`,
		r.ID, r.TaskID, r.TriggeredAt.UnixMilli(), string(r.Status), nullStr(r.ErrorMessage),
	)
	return err
}

func (s *sqliteStore) FinishRun(ctx context.Context, id string, status RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_runs SET status = ?, error = ? WHERE id = ?`,
		string(status), nullStr(errMsg), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListRuns(ctx context.Context, taskID string, limit int) ([]*TaskRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, triggered_at, status, error FROM task_runs
		 WHERE task_id = ? ORDER BY triggered_at DESC LIMIT ?`,
		taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaskRun
	for rows.Next() {
		var r TaskRun
		var triggered int64
		var status string
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.TaskID, &triggered, &status, &errStr); err != nil {
			return nil, err
		}
		r.TriggeredAt = time.UnixMilli(triggered)
		r.Status = RunStatus(status)
		if errStr.Valid {
			r.ErrorMessage = errStr.String
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ReconcileInterruptedRuns(ctx context.Context, message string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_runs SET status = ?, error = ? WHERE status = ?`,
		string(RunStatusFailed), message, string(RunStatusRunning),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("reconciled interrupted runs", logx.Int64("count", n))
	}
	return int(n), nil
}

func (s *sqliteStore) PruneRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM task_runs WHERE triggered_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("pruned old task runs", logx.Int64("deleted", n), logx.Time("before", before))
	}
	return n, nil
}

// ---- Scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*ScheduledTask, error) {
	var t ScheduledTask
	var kind, payload string
	var enabled int
	var projectPath, agent, lastErr sql.NullString
	var createdAt, updatedAt int64
	var lastRunAt, nextRunAt sql.NullInt64

	err := row.Scan(
		&t.ID, &t.Name, &t.Prompt, &kind, &payload, &t.Timezone, &enabled,
		&projectPath, &agent, &createdAt, &updatedAt, &lastRunAt, &nextRunAt, &lastErr,
	)
	if err != nil {
		return nil, err
	}

	t.Kind = schedule.Kind(kind)
	t.Payload = []byte(payload)
	t.Enabled = enabled != 0
	if projectPath.Valid {
		t.ProjectPath = projectPath.String
	}
	if agent.Valid {
		t.Agent = agent.String
	}
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	if lastRunAt.Valid {
		ts := time.UnixMilli(lastRunAt.Int64)
		t.LastRunAt = &ts
	}
	if nextRunAt.Valid {
		ts := time.UnixMilli(nextRunAt.Int64)
		t.NextRunAt = &ts
	}
	if lastErr.Valid {
		t.LastError = lastErr.String
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*ScheduledTask, error) {
	var out []*ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
