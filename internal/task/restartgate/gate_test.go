package restartgate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	logx "agentdeck/pkg/logx"
)

type countingRestarter struct {
	calls atomic.Int64
}

func (r *countingRestarter) Restart(context.Context) error {
	r.calls.Add(1)
	return nil
}

func TestRestartImmediateWhenIdle(t *testing.T) {
	t.Parallel()
	r := &countingRestarter{}
	g := New(r, nil, logx.Nop())

	if err := g.RequestRestart(context.Background()); err != nil {
		t.Fatalf("RequestRestart: %v", err)
	}
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("restarts = %d, want 1 (synchronous when idle)", got)
	}
	if g.Pending() {
		t.Fatal("no restart should be pending after an immediate restart")
	}
}

func TestRestartDeferredWhileBusy(t *testing.T) {
	t.Parallel()
	r := &countingRestarter{}
	g := New(r, nil, logx.Nop())
	ctx := context.Background()

	g.Acquire("t1")
	g.Acquire("t2")

	if err := g.RequestRestart(ctx); err != nil {
		t.Fatalf("RequestRestart: %v", err)
	}
	if r.calls.Load() != 0 {
		t.Fatal("restart fired while tasks were busy")
	}
	if !g.Pending() {
		t.Fatal("restart should be pending")
	}

	g.Release(ctx, "t1")
	if r.calls.Load() != 0 {
		t.Fatal("restart fired before the busy set drained")
	}

	g.Release(ctx, "t2")
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("restarts = %d, want 1 after last release", got)
	}
	if g.Pending() {
		t.Fatal("pending flag not cleared after deferred restart")
	}
}

func TestExactlyOneRestartUnderConcurrentReleases(t *testing.T) {
	t.Parallel()
	r := &countingRestarter{}
	g := New(r, nil, logx.Nop())
	ctx := context.Background()

	const n = 32
	for i := 0; i < n; i++ {
		g.Acquire(taskID(i))
	}
	if err := g.RequestRestart(ctx); err != nil {
		t.Fatalf("RequestRestart: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			g.Release(ctx, taskID(i))
		}()
	}
	wg.Wait()

	if got := r.calls.Load(); got != 1 {
		t.Fatalf("restarts = %d, want exactly 1", got)
	}
	if g.BusyCount() != 0 {
		t.Fatalf("busy count = %d, want 0", g.BusyCount())
	}
}

func TestReleaseWithoutPendingDoesNothing(t *testing.T) {
	t.Parallel()
	r := &countingRestarter{}
	g := New(r, nil, logx.Nop())
	ctx := context.Background()

	g.Acquire("t1")
	g.Release(ctx, "t1")
	if r.calls.Load() != 0 {
		t.Fatal("restart fired with no pending request")
	}
}

func taskID(i int) string {
	return string(rune('a' + i%26)) + string(rune('0'+i/26))
}
