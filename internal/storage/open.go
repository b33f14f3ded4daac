package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "agentdeck/pkg/logx"
)

// Store is the persistence API consumed by the scheduler and the
// presentation layer.
type Store interface {
	CreateTask(ctx context.Context, t *ScheduledTask) error
	UpdateTask(ctx context.Context, t *ScheduledTask) error
	GetTask(ctx context.Context, id string) (*ScheduledTask, error)
	ListTasks(ctx context.Context) ([]*ScheduledTask, error)
	DeleteTask(ctx context.Context, id string) error

	// DueTasks returns enabled tasks with next_run_at <= asOf, earliest
	// first, so the worst-case trigger latency under load is bounded.
	DueTasks(ctx context.Context, asOf time.Time) ([]*ScheduledTask, error)

	InsertRun(ctx context.Context, r *TaskRun) error
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg string) error
	ListRuns(ctx context.Context, taskID string, limit int) ([]*TaskRun, error)

	// ReconcileInterruptedRuns marks any run still "running" as failed with
	// the given message. Called once at startup, before polling begins.
	ReconcileInterruptedRuns(ctx context.Context, message string) (int, error)

	// PruneRunsBefore deletes run records triggered before the cutoff.
	PruneRunsBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
