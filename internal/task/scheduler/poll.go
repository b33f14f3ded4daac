package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"agentdeck/internal/agent"
	"agentdeck/internal/eventbus"
	"agentdeck/internal/schedule"
	"agentdeck/internal/storage"
	logx "agentdeck/pkg/logx"
)

func (s *Service) poll(ctx context.Context, stopCh <-chan struct{}, interval time.Duration) {
	t := s.clock.NewTicker(interval)
	defer t.Stop()

	var ticks uint64
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-t.C():
		}
		s.tick(ctx)
		ticks++
		if ticks%pruneEveryTicks == 0 {
			s.pruneRuns(ctx)
		}
	}
}

// tick fires every task whose nextRunAt has passed. Each trigger runs in its
// own goroutine so one long agent run never delays the rest of the queue.
func (s *Service) tick(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.store.DueTasks(ctx, now)
	if err != nil {
		s.log.Error("due task query failed", logx.Err(err))
		return
	}
	for i := range due {
		// an in-flight task stays due and is retried on a later tick
		_ = s.trigger(ctx, due[i], now)
	}
}

// trigger records a run, marks the task busy on the restart gate and hands
// the prompt to the agent runtime. It refuses a task that is already in
// flight; the task stays due and is picked up once the running attempt
// completes and recomputes nextRunAt.
func (s *Service) trigger(ctx context.Context, task *storage.ScheduledTask, now time.Time) error {
	s.mu.Lock()
	if _, busy := s.inflight[task.ID]; busy {
		s.mu.Unlock()
		return ErrRunInFlight
	}
	s.inflight[task.ID] = struct{}{}
	s.mu.Unlock()

	run := &storage.TaskRun{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		Status:      storage.RunStatusRunning,
		TriggeredAt: now,
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		s.log.Error("run insert failed", logx.String("task", task.ID), logx.Err(err))
		s.mu.Lock()
		delete(s.inflight, task.ID)
		s.mu.Unlock()
		return err
	}

	s.gate.Acquire(task.ID)
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeRunStarted,
		Data: RunEvent{RunID: run.ID, TaskID: task.ID},
	})
	s.log.Info("task triggered",
		logx.String("task", task.ID),
		logx.String("name", task.Name),
		logx.String("run", run.ID))

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in task run", logx.String("task", task.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				s.complete(task.ID, run.ID, run.TriggeredAt, errors.New("internal error: task run panicked"))
			}
		}()
		err := s.runtime.Run(ctx, agent.RunRequest{
			Prompt:      task.Prompt,
			ProjectPath: task.ProjectPath,
			Agent:       task.Agent,
		})
		s.complete(task.ID, run.ID, run.TriggeredAt, err)
	}()
	return nil
}

// complete persists the run outcome and advances the task. lastRunAt records
// when the run was triggered, not when it ended, so a long run does not shift
// the interval anchor. A failure never disables the task: lastError is
// recorded and the next occurrence is computed the same way as after a
// success.
func (s *Service) complete(taskID, runID string, triggeredAt time.Time, runErr error) {
	// Completion must not be cut short by scheduler shutdown, so it runs on
	// a fresh context. Interrupted process deaths are covered by startup
	// reconciliation instead.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := s.clock.Now()
	status := storage.RunStatusSucceeded
	errMsg := ""
	if runErr != nil {
		status = storage.RunStatusFailed
		errMsg = runErr.Error()
	}
	if err := s.store.FinishRun(ctx, runID, status, errMsg); err != nil {
		s.log.Error("run finish failed", logx.String("run", runID), logx.Err(err))
	}

	// Re-read the task: it may have been edited or deleted mid-run. The run
	// record above survives either way.
	task, err := s.store.GetTask(ctx, taskID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// deleted mid-run; nothing left to advance
	case err != nil:
		s.log.Error("task reload failed", logx.String("task", taskID), logx.Err(err))
	default:
		last := triggeredAt
		task.LastRunAt = &last
		task.LastError = errMsg
		next, nerr := s.nextRunAt(task, now)
		task.NextRunAt = next
		if nerr != nil && task.LastError == "" {
			// The task is halted (no next occurrence); tell the user why.
			task.LastError = nerr.Error()
		}
		if err := s.store.UpdateTask(ctx, task); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.Error("task advance failed", logx.String("task", taskID), logx.Err(err))
		}
	}

	s.mu.Lock()
	delete(s.inflight, taskID)
	s.mu.Unlock()
	s.gate.Release(ctx, taskID)

	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeRunFinished,
		Data: RunEvent{RunID: runID, TaskID: taskID, Error: errMsg},
	})
	if runErr != nil {
		s.log.Warn("task run failed", logx.String("task", taskID), logx.String("run", runID), logx.Err(runErr))
	} else {
		s.log.Info("task run finished", logx.String("task", taskID), logx.String("run", runID))
	}
}

// nextRunAt recomputes the task's next occurrence from its stored schedule.
// A schedule that can no longer be decoded leaves nextRunAt empty, so the
// task stops firing instead of looping hot.
func (s *Service) nextRunAt(task *storage.ScheduledTask, now time.Time) (*time.Time, error) {
	sp, err := schedule.Decode(task.Kind, task.Payload)
	if err != nil {
		s.log.Error("stored schedule is unreadable", logx.String("task", task.ID), logx.Err(err))
		return nil, err
	}
	loc, err := schedule.LoadLocation(task.Timezone)
	if err != nil {
		s.log.Error("stored timezone is unknown", logx.String("task", task.ID), logx.String("tz", task.Timezone), logx.Err(err))
		return nil, err
	}
	next, err := schedule.Next(sp, loc, task.LastRunAt, now)
	if err != nil {
		s.log.Error("next occurrence computation failed", logx.String("task", task.ID), logx.Err(err))
		return nil, err
	}
	return next, nil
}

func (s *Service) pruneRuns(ctx context.Context) {
	s.mu.Lock()
	retention := s.cfg.RunRetention
	s.mu.Unlock()
	if retention <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-retention)
	n, err := s.store.PruneRunsBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("run prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Debug("old runs pruned", logx.Int64("pruned", n), logx.Time("cutoff", cutoff))
	}
}
