package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"agentdeck/internal/schedule"
	logx "agentdeck/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testTask(id string, next time.Time) *ScheduledTask {
	n := next
	return &ScheduledTask{
		ID:        id,
		Name:      "task " + id,
		Prompt:    "do the thing",
		Kind:      schedule.KindInterval,
		Payload:   []byte(`{"intervalSeconds":300}`),
		Enabled:   true,
		NextRunAt: &n,
	}
}

func TestTaskRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	next := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := testTask("t1", next)
	in.Timezone = "Asia/Jakarta"
	in.ProjectPath = "/home/me/project"
	in.Agent = "default"
	if err := st.CreateTask(ctx, in); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != in.Name || got.Prompt != in.Prompt || got.Kind != schedule.KindInterval {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.Timezone != "Asia/Jakarta" || got.ProjectPath != "/home/me/project" || got.Agent != "default" {
		t.Fatalf("unexpected optional fields: %+v", got)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, next)
	}
	if got.LastRunAt != nil || got.LastError != "" {
		t.Fatalf("fresh task has run state: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("audit timestamps not set: %+v", got)
	}

	got.Name = "renamed"
	got.NextRunAt = nil
	got.LastError = "boom"
	prevUpdated := got.UpdatedAt
	time.Sleep(5 * time.Millisecond)
	if err := st.UpdateTask(ctx, got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	got2, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got2.Name != "renamed" || got2.NextRunAt != nil || got2.LastError != "boom" {
		t.Fatalf("update not applied: %+v", got2)
	}
	if !got2.UpdatedAt.After(prevUpdated) {
		t.Fatalf("UpdatedAt not bumped: %v <= %v", got2.UpdatedAt, prevUpdated)
	}
}

func TestTaskNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.GetTask(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask = %v, want ErrNotFound", err)
	}
	if err := st.UpdateTask(ctx, testTask("nope", time.Now())); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateTask = %v, want ErrNotFound", err)
	}
	if err := st.DeleteTask(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteTask = %v, want ErrNotFound", err)
	}
}

func TestDueTasksOrderingAndFilters(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	asOf := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	late := testTask("late", asOf.Add(-time.Minute))
	early := testTask("early", asOf.Add(-time.Hour))
	future := testTask("future", asOf.Add(time.Hour))
	disabled := testTask("disabled", asOf.Add(-time.Hour))
	disabled.Enabled = false
	terminal := testTask("terminal", asOf)
	terminal.NextRunAt = nil

	for _, task := range []*ScheduledTask{late, early, future, disabled, terminal} {
		if err := st.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask(%s): %v", task.ID, err)
		}
	}

	due, err := st.DueTasks(ctx, asOf)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due tasks, got %d", len(due))
	}
	// Earliest-due first.
	if due[0].ID != "early" || due[1].ID != "late" {
		t.Fatalf("unexpected order: %s, %s", due[0].ID, due[1].ID)
	}

	// Exactly-equal next_run_at counts as due (the strict-after rule lives
	// in the calculator, not the query).
	exact := testTask("exact", asOf)
	if err := st.CreateTask(ctx, exact); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	due, err = st.DueTasks(ctx, asOf)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("expected 3 due tasks, got %d", len(due))
	}
}

func TestRunLifecycleAndWeakReference(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	task := testTask("t1", time.Now())
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	run := &TaskRun{ID: "r1", TaskID: "t1", TriggeredAt: time.Now(), Status: RunStatusRunning}
	if err := st.InsertRun(ctx, run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if err := st.FinishRun(ctx, "r1", RunStatusFailed, "timeout"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := st.ListRuns(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != RunStatusFailed || runs[0].ErrorMessage != "timeout" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	// Deleting the task keeps its run history.
	if err := st.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	runs, err = st.ListRuns(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("run history lost on task delete: %+v", runs)
	}
}

func TestReconcileInterruptedRuns(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, r := range []*TaskRun{
		{ID: "r1", TaskID: "t1", Status: RunStatusRunning},
		{ID: "r2", TaskID: "t1", Status: RunStatusSucceeded},
		{ID: "r3", TaskID: "t2", Status: RunStatusRunning},
	} {
		if err := st.InsertRun(ctx, r); err != nil {
			t.Fatalf("InsertRun(%s): %v", r.ID, err)
		}
	}

	n, err := st.ReconcileInterruptedRuns(ctx, "interrupted by shutdown")
	if err != nil {
		t.Fatalf("ReconcileInterruptedRuns: %v", err)
	}
	if n != 2 {
		t.Fatalf("reconciled %d runs, want 2", n)
	}

	for _, taskID := range []string{"t1", "t2"} {
		runs, err := st.ListRuns(ctx, taskID, 10)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		for _, r := range runs {
			if r.Status == RunStatusRunning {
				t.Fatalf("run %s still running after reconcile", r.ID)
			}
			if r.ID != "r2" && r.ErrorMessage != "interrupted by shutdown" {
				t.Fatalf("run %s missing interruption message: %+v", r.ID, r)
			}
		}
	}

	// Idempotent: nothing left to reconcile.
	n, err = st.ReconcileInterruptedRuns(ctx, "interrupted by shutdown")
	if err != nil || n != 0 {
		t.Fatalf("second reconcile = (%d, %v), want (0, nil)", n, err)
	}
}

func TestPruneRunsBefore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, age := range []time.Duration{0, 24 * time.Hour, 30 * 24 * time.Hour} {
		r := &TaskRun{
			ID:          []string{"new", "day", "month"}[i],
			TaskID:      "t1",
			TriggeredAt: now.Add(-age),
			Status:      RunStatusSucceeded,
		}
		if err := st.InsertRun(ctx, r); err != nil {
			t.Fatalf("InsertRun: %v", err)
		}
	}

	n, err := st.PruneRunsBefore(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRunsBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	runs, err := st.ListRuns(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 remaining runs, got %d", len(runs))
	}
}
