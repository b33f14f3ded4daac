// Package restartgate defers agent-host restarts until no triggered task is
// mid-flight. A restart landing inside a running task would abort or corrupt
// that task's work, so the gate holds the request until the busy set drains.
package restartgate

import (
	"context"
	"time"

	"sync"

	"agentdeck/internal/eventbus"
	logx "agentdeck/pkg/logx"
)

// Restarter restarts the process hosting the agent runtime.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Gate is a small state machine: idle, busy(n), or busy(n)+pending.
//
// Transitions happen under one mutex so near-simultaneous task completions
// can never double-fire (or lose) a pending restart: exactly one Release
// observes the busy set reaching zero with pending set, clears the flag, and
// performs the restart.
type Gate struct {
	restarter Restarter
	bus       eventbus.Bus
	log       logx.Logger

	mu      sync.Mutex
	busy    map[string]struct{}
	pending bool
}

func New(restarter Restarter, bus eventbus.Bus, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{
		restarter: restarter,
		bus:       bus,
		log:       log,
		busy:      map[string]struct{}{},
	}
}

// Acquire marks a task as mid-flight. Any number of tasks may be busy at once.
func (g *Gate) Acquire(taskID string) {
	g.mu.Lock()
	g.busy[taskID] = struct{}{}
	g.mu.Unlock()
}

// Release clears a task's busy marker. If this was the last busy task and a
// restart is pending, the deferred restart happens now.
func (g *Gate) Release(ctx context.Context, taskID string) {
	g.mu.Lock()
	delete(g.busy, taskID)
	fire := g.pending && len(g.busy) == 0
	if fire {
		// Clear before unlocking: a concurrent Release must not fire again.
		g.pending = false
	}
	g.mu.Unlock()

	if fire {
		g.log.Info("all tasks finished; performing deferred restart")
		g.doRestart(ctx)
	}
}

// RequestRestart restarts immediately when idle, otherwise marks the restart
// pending and returns without restarting.
func (g *Gate) RequestRestart(ctx context.Context) error {
	g.mu.Lock()
	if len(g.busy) > 0 {
		g.pending = true
		n := len(g.busy)
		g.mu.Unlock()
		g.log.Info("restart deferred until running tasks finish", logx.Int("busy", n))
		if g.bus != nil {
			g.bus.Publish(eventbus.Event{Type: eventbus.TypeRestartPending, Time: time.Now()})
		}
		return nil
	}
	g.mu.Unlock()

	return g.doRestart(ctx)
}

// Pending reports whether a restart is waiting for in-flight tasks.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// BusyCount reports the number of tasks currently mid-flight.
func (g *Gate) BusyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.busy)
}

func (g *Gate) doRestart(ctx context.Context) error {
	if g.restarter == nil {
		return nil
	}
	err := g.restarter.Restart(ctx)
	if err != nil {
		g.log.Error("agent host restart failed", logx.Err(err))
		return err
	}
	if g.bus != nil {
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeRestartDone, Time: time.Now()})
	}
	return nil
}
