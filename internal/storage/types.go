package storage

import (
	"errors"
	"time"

	"agentdeck/internal/schedule"
)

var (
	ErrNotFound = errors.New("record not found")
)

// RunStatus is the lifecycle state of one trigger attempt.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Config configures storage.
//
// Driver values: "sqlite" (default when empty). Path is the database file.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// ScheduledTask is a user-defined recurring job.
//
// NextRunAt is the authoritative "due" signal: nil means the task never
// fires again (a consumed once task, or a schedule that failed to compute).
// It is recomputed on every mutation and never persisted stale.
type ScheduledTask struct {
	ID       string
	Name     string
	Prompt   string
	Kind     schedule.Kind
	Payload  []byte // kind-tagged JSON, decoded via schedule.Decode
	Timezone string // IANA zone; empty means UTC
	Enabled  bool

	// Optional overrides handed to the agent runtime.
	ProjectPath string
	Agent       string

	CreatedAt time.Time
	UpdatedAt time.Time
	LastRunAt *time.Time
	NextRunAt *time.Time
	LastError string
}

// TaskRun is an immutable audit record of one trigger attempt.
// TaskID is a weak reference: the run outlives task deletion.
type TaskRun struct {
	ID           string
	TaskID       string
	TriggeredAt  time.Time
	Status       RunStatus
	ErrorMessage string
}
