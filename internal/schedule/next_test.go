package schedule

import (
	"errors"
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func TestNextOnce(t *testing.T) {
	t.Parallel()
	runAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sp := Spec{Kind: KindOnce, Once: &OnceSpec{RunAt: runAt}}
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	got, err := Next(sp, time.UTC, nil, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || !got.Equal(runAt) {
		t.Fatalf("Next = %v, want %v", got, runAt)
	}

	// A past instant is still returned until consumed (it becomes due
	// immediately); consumption is tracked via lastRunAt.
	late := runAt.Add(48 * time.Hour)
	got, err = Next(sp, time.UTC, nil, late)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || !got.Equal(runAt) {
		t.Fatalf("Next = %v, want %v", got, runAt)
	}

	// Consumed: fires exactly once, then the task is terminal.
	got, err = Next(sp, time.UTC, &runAt, late)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != nil {
		t.Fatalf("consumed once task should never fire again, got %v", got)
	}
}

func TestNextInterval(t *testing.T) {
	t.Parallel()
	sp := Spec{Kind: KindInterval, Interval: &IntervalSpec{Seconds: 300}}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := Next(sp, time.UTC, nil, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := now.Add(5 * time.Minute); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}

	// After a trigger at t, the next instant is t + N (lastRunAt <= now,
	// so the anchor is now).
	last := now.Add(-time.Second)
	got, err = Next(sp, time.UTC, &last, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := now.Add(5 * time.Minute); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}

	// A lastRunAt ahead of now (clock step) anchors the interval instead.
	ahead := now.Add(time.Minute)
	got, err = Next(sp, time.UTC, &ahead, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := ahead.Add(5 * time.Minute); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestIntervalMinimum(t *testing.T) {
	t.Parallel()
	for _, secs := range []int64{-1, 0, 1, 59} {
		sp := Spec{Kind: KindInterval, Interval: &IntervalSpec{Seconds: secs}}
		if err := sp.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("Validate(interval=%d) = %v, want ErrConfig", secs, err)
		}
		if _, err := Next(sp, time.UTC, nil, time.Now()); !errors.Is(err, ErrConfig) {
			t.Fatalf("Next(interval=%d) = %v, want ErrConfig", secs, err)
		}
	}
	sp := Spec{Kind: KindInterval, Interval: &IntervalSpec{Seconds: 60}}
	if err := sp.Validate(); err != nil {
		t.Fatalf("Validate(interval=60): %v", err)
	}
}

func TestNextDaily(t *testing.T) {
	t.Parallel()
	sp := Spec{Kind: KindDaily, Daily: &DailySpec{Hour: 9, Minute: 30}}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before todays slot",
			now:  time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "after todays slot rolls to tomorrow",
			now:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "exact-equal instant is not due",
			now:  time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
			want: time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Next(sp, time.UTC, nil, tt.now)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Next = %v, want %v", got, tt.want)
			}
			if !got.After(tt.now) {
				t.Fatalf("Next %v is not strictly after now %v", got, tt.now)
			}
		})
	}
}

func TestNextDailyTimezone(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "Asia/Jakarta") // UTC+7, no DST
	sp := Spec{Kind: KindDaily, Daily: &DailySpec{Hour: 7, Minute: 0}}

	// 01:00 UTC = 08:00 Jakarta, past today's 07:00 slot.
	now := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	got, err := Next(sp, loc, nil, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	local := got.In(loc)
	if local.Hour() != 7 || local.Minute() != 0 {
		t.Fatalf("wall clock = %02d:%02d, want 07:00", local.Hour(), local.Minute())
	}
	if local.Day() != 2 {
		t.Fatalf("expected tomorrow's slot, got day %d", local.Day())
	}
}

func TestNextWeekly(t *testing.T) {
	t.Parallel()
	// weekday 2 = Monday (1=Sunday convention).
	sp := Spec{Kind: KindWeekly, Weekly: &WeeklySpec{Weekday: 2, Hour: 9, Minute: 0}}

	// Sunday 2024-01-07 10:00 UTC -> next Monday 09:00 UTC.
	now := time.Date(2024, 1, 7, 10, 0, 0, 0, time.UTC)
	got, err := Next(sp, time.UTC, nil, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}

	// Monday 09:00 exactly rolls a full week (strictly after).
	got, err = Next(sp, time.UTC, nil, want)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if wantNext := want.AddDate(0, 0, 7); !got.Equal(wantNext) {
		t.Fatalf("Next = %v, want %v", got, wantNext)
	}
}

func TestNextCron(t *testing.T) {
	t.Parallel()
	sp := Spec{Kind: KindCron, Cron: &CronSpec{Expression: "0 9 * * 1-5"}}

	// Friday 2024-01-05 09:00:01 -> following Monday 09:00.
	now := time.Date(2024, 1, 5, 9, 0, 1, 0, time.UTC)
	got, err := Next(sp, time.UTC, nil, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextCronTimezone(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "America/New_York")
	sp := Spec{Kind: KindCron, Cron: &CronSpec{Expression: "30 8 * * *"}}

	// 2024-06-01 11:00 UTC = 07:00 EDT; today's 08:30 EDT is still ahead.
	now := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
	got, err := Next(sp, loc, nil, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	local := got.In(loc)
	if local.Hour() != 8 || local.Minute() != 30 || local.Day() != 1 {
		t.Fatalf("unexpected slot: %v", local)
	}
}

func TestNextIsPure(t *testing.T) {
	t.Parallel()
	sp := Spec{Kind: KindDaily, Daily: &DailySpec{Hour: 23, Minute: 59}}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	a, err := Next(sp, time.UTC, nil, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	b, err := Next(sp, time.UTC, nil, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !a.Equal(*b) {
		t.Fatalf("Next is not deterministic: %v vs %v", a, b)
	}
}

func TestNextMalformed(t *testing.T) {
	t.Parallel()
	for _, sp := range []Spec{
		{Kind: KindOnce},
		{Kind: KindInterval},
		{Kind: Kind("hourly")},
		{Kind: KindCron, Cron: &CronSpec{Expression: "not a cron"}},
	} {
		if _, err := Next(sp, time.UTC, nil, time.Now()); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Next(%+v) = %v, want ErrMalformed", sp, err)
		}
	}
}
