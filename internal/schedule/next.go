package schedule

import (
	"fmt"
	"time"
)

// Next computes the next trigger instant for a spec, or nil when the task
// never fires again.
//
// lastRunAt is the instant of the most recent trigger (nil if the task has
// never fired). now is the reference instant. For the wall-clock kinds
// (daily, weekly, cron) "next" is strictly after now; an exact-equal instant
// is not due, so a boundary evaluation can never double-fire.
//
// Next is pure: identical arguments always yield identical results.
func Next(sp Spec, loc *time.Location, lastRunAt *time.Time, now time.Time) (*time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch sp.Kind {
	case KindOnce:
		return nextOnce(sp, lastRunAt)
	case KindInterval:
		return nextInterval(sp, lastRunAt, now)
	case KindDaily:
		return nextDaily(sp, loc, now)
	case KindWeekly:
		return nextWeekly(sp, loc, now)
	case KindCron:
		return nextCron(sp, loc, now)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, string(sp.Kind))
	}
}

// nextOnce returns the stored instant until it has been consumed (any
// recorded run consumes it), then nil forever: the task is terminal.
func nextOnce(sp Spec, lastRunAt *time.Time) (*time.Time, error) {
	if sp.Once == nil {
		return nil, fmt.Errorf("%w: once payload missing", ErrMalformed)
	}
	if lastRunAt != nil {
		return nil, nil
	}
	t := sp.Once.RunAt
	return &t, nil
}

// nextInterval anchors to max(now, lastRunAt): a run that somehow completed
// "in the future" (clock step) still spaces the next trigger a full interval
// out instead of firing immediately.
func nextInterval(sp Spec, lastRunAt *time.Time, now time.Time) (*time.Time, error) {
	if sp.Interval == nil {
		return nil, fmt.Errorf("%w: interval payload missing", ErrMalformed)
	}
	if sp.Interval.Seconds < MinIntervalSeconds {
		return nil, fmt.Errorf("%w: intervalSeconds %d is below the %d second minimum",
			ErrConfig, sp.Interval.Seconds, MinIntervalSeconds)
	}
	base := now
	if lastRunAt != nil && lastRunAt.After(base) {
		base = *lastRunAt
	}
	t := base.Add(time.Duration(sp.Interval.Seconds) * time.Second)
	return &t, nil
}

func nextDaily(sp Spec, loc *time.Location, now time.Time) (*time.Time, error) {
	if sp.Daily == nil {
		return nil, fmt.Errorf("%w: daily payload missing", ErrMalformed)
	}
	if err := checkClock(sp.Daily.Hour, sp.Daily.Minute); err != nil {
		return nil, err
	}
	local := now.In(loc)
	cand := time.Date(local.Year(), local.Month(), local.Day(), sp.Daily.Hour, sp.Daily.Minute, 0, 0, loc)
	if !cand.After(now) {
		d := cand.AddDate(0, 0, 1)
		// Re-anchor the wall clock so a DST transition cannot shift the slot.
		cand = time.Date(d.Year(), d.Month(), d.Day(), sp.Daily.Hour, sp.Daily.Minute, 0, 0, loc)
	}
	return &cand, nil
}

func nextWeekly(sp Spec, loc *time.Location, now time.Time) (*time.Time, error) {
	if sp.Weekly == nil {
		return nil, fmt.Errorf("%w: weekly payload missing", ErrMalformed)
	}
	if sp.Weekly.Weekday < 1 || sp.Weekly.Weekday > 7 {
		return nil, fmt.Errorf("%w: weekday %d out of range 1-7 (1=Sunday)", ErrConfig, sp.Weekly.Weekday)
	}
	if err := checkClock(sp.Weekly.Hour, sp.Weekly.Minute); err != nil {
		return nil, err
	}
	// Stored 1=Sunday..7=Saturday maps directly onto Go's 0-based weekday.
	target := time.Weekday(sp.Weekly.Weekday - 1)
	local := now.In(loc)
	for i := 0; i <= 7; i++ {
		d := local.AddDate(0, 0, i)
		cand := time.Date(d.Year(), d.Month(), d.Day(), sp.Weekly.Hour, sp.Weekly.Minute, 0, 0, loc)
		if cand.Weekday() == target && cand.After(now) {
			return &cand, nil
		}
	}
	// Unreachable: a matching weekday with a trigger strictly after now
	// always exists within the next 7 days.
	return nil, fmt.Errorf("%w: no weekly slot found", ErrConfig)
}

func nextCron(sp Spec, loc *time.Location, now time.Time) (*time.Time, error) {
	if sp.Cron == nil {
		return nil, fmt.Errorf("%w: cron payload missing", ErrMalformed)
	}
	sched, err := standardCron.Parse(sp.Cron.Expression)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression %q: %v", ErrMalformed, sp.Cron.Expression, err)
	}
	// robfig evaluates in the location of the instant it is handed.
	t := sched.Next(now.In(loc))
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}
