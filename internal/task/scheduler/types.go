package scheduler

import (
	"errors"
	"time"

	"agentdeck/internal/schedule"
)

// Config controls the scheduler service.
type Config struct {
	Enabled bool

	// PollInterval is the tick period of the due-task poller. It must be
	// frequent enough that minute-granularity schedules fire within their
	// minute; the default is 3s.
	PollInterval time.Duration

	// RunRetention prunes run records older than this. Zero keeps forever.
	RunRetention time.Duration

	// RunListLimit caps ListRuns results. Default 100.
	RunListLimit int
}

const (
	defaultPollInterval = 3 * time.Second

	// pruneEveryTicks spaces retention sweeps out to roughly one per hour
	// at the default poll interval.
	pruneEveryTicks = 1200

	interruptedMessage = "interrupted: run did not survive process shutdown"
)

var (
	ErrNotStarted  = errors.New("task scheduler not started")
	ErrRunInFlight = errors.New("task already has a run in flight")
)

// Draft is the presentation layer's input for creating or editing a task.
// The spec is typed; serialization happens at the persistence edge only.
type Draft struct {
	Name     string
	Prompt   string
	Spec     schedule.Spec
	Timezone string
	Enabled  bool

	ProjectPath string
	Agent       string
}

// RunEvent is the bus payload for run lifecycle events.
type RunEvent struct {
	RunID  string `json:"run_id"`
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

// Ticker abstracts time.Ticker so tests can drive ticks deterministically.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock supplies the poller's sense of time.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.t.C }
func (t realTicker) Stop()               { t.t.Stop() }
