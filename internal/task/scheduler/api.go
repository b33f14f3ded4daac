package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentdeck/internal/eventbus"
	"agentdeck/internal/schedule"
	"agentdeck/internal/storage"
)

// TaskEvent is the bus payload for task mutation events.
type TaskEvent struct {
	TaskID string `json:"task_id"`
	Name   string `json:"name"`
}

// Tasks returns all tasks, enabled or not.
func (s *Service) Tasks(ctx context.Context) ([]*storage.ScheduledTask, error) {
	return s.store.ListTasks(ctx)
}

// Task returns one task by id.
func (s *Service) Task(ctx context.Context, id string) (*storage.ScheduledTask, error) {
	return s.store.GetTask(ctx, id)
}

// Create validates the draft, computes the first occurrence and persists a
// new task.
func (s *Service) Create(ctx context.Context, d Draft) (*storage.ScheduledTask, error) {
	payload, loc, err := s.checkDraft(&d)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	next, err := schedule.Next(d.Spec, loc, nil, now)
	if err != nil {
		return nil, err
	}

	task := &storage.ScheduledTask{
		ID:          uuid.NewString(),
		Name:        d.Name,
		Prompt:      d.Prompt,
		Kind:        d.Spec.Kind,
		Payload:     payload,
		Timezone:    d.Timezone,
		Enabled:     d.Enabled,
		ProjectPath: d.ProjectPath,
		Agent:       d.Agent,
		CreatedAt:   now,
		UpdatedAt:   now,
		NextRunAt:   next,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskCreated, Data: TaskEvent{TaskID: task.ID, Name: task.Name}})
	return task, nil
}

// Update replaces a task's definition with the draft. A changed schedule
// starts fresh: lastRunAt is cleared so a rescheduled once task fires again.
// The previous lastError is always discarded.
func (s *Service) Update(ctx context.Context, id string, d Draft) (*storage.ScheduledTask, error) {
	payload, loc, err := s.checkDraft(&d)
	if err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if task.Kind != d.Spec.Kind || !bytes.Equal(task.Payload, payload) {
		task.LastRunAt = nil
	}
	task.Name = d.Name
	task.Prompt = d.Prompt
	task.Kind = d.Spec.Kind
	task.Payload = payload
	task.Timezone = d.Timezone
	task.Enabled = d.Enabled
	task.ProjectPath = d.ProjectPath
	task.Agent = d.Agent
	task.LastError = ""

	now := s.clock.Now()
	next, err := schedule.Next(d.Spec, loc, task.LastRunAt, now)
	if err != nil {
		return nil, err
	}
	task.NextRunAt = next

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskUpdated, Data: TaskEvent{TaskID: task.ID, Name: task.Name}})
	return task, nil
}

// SetEnabled flips the enabled flag and recomputes the next occurrence, so
// re-enabling never fires a backlog of missed slots.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*storage.ScheduledTask, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Enabled = enabled

	sp, err := schedule.Decode(task.Kind, task.Payload)
	if err != nil {
		return nil, err
	}
	loc, err := schedule.LoadLocation(task.Timezone)
	if err != nil {
		return nil, err
	}
	next, err := schedule.Next(sp, loc, task.LastRunAt, s.clock.Now())
	if err != nil {
		return nil, err
	}
	task.NextRunAt = next

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskUpdated, Data: TaskEvent{TaskID: task.ID, Name: task.Name}})
	return task, nil
}

// Delete removes a task. Its run history is kept, and an in-flight run is
// allowed to finish; completion copes with the missing row.
func (s *Service) Delete(ctx context.Context, id string) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDeleted, Data: TaskEvent{TaskID: id, Name: task.Name}})
	return nil
}

// RunNow triggers a task immediately, skipping the due check. The run goes
// through the normal pipeline, so lastRunAt and nextRunAt advance exactly as
// if the poller had fired it; a manual run consumes a once task.
func (s *Service) RunNow(ctx context.Context, id string) error {
	runCtx, ok := s.running()
	if !ok {
		return ErrNotStarted
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return s.trigger(runCtx, task, s.clock.Now())
}

// Runs lists the most recent runs for a task, newest first.
func (s *Service) Runs(ctx context.Context, taskID string) ([]*storage.TaskRun, error) {
	s.mu.Lock()
	limit := s.cfg.RunListLimit
	s.mu.Unlock()
	return s.store.ListRuns(ctx, taskID, limit)
}

// Subscribe exposes the change-notification feed for UI refreshes.
func (s *Service) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return s.bus.Subscribe(buffer)
}

// checkDraft normalizes and validates a draft, returning the encoded
// schedule payload and the resolved location.
func (s *Service) checkDraft(d *Draft) ([]byte, *time.Location, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return nil, nil, fmt.Errorf("%w: task name is required", schedule.ErrConfig)
	}
	if strings.TrimSpace(d.Prompt) == "" {
		return nil, nil, fmt.Errorf("%w: task prompt is required", schedule.ErrConfig)
	}
	if err := d.Spec.Validate(); err != nil {
		return nil, nil, err
	}
	loc, err := schedule.LoadLocation(d.Timezone)
	if err != nil {
		return nil, nil, err
	}
	payload, err := d.Spec.Encode()
	if err != nil {
		return nil, nil, err
	}
	return payload, loc, nil
}
