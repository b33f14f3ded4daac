// Package schedule computes the next trigger instant for a scheduled task.
//
// It is deliberately pure: no clocks, no persistence, no goroutines. Callers
// hand in the reference instants and get back either the next trigger time or
// nil ("never fires again").
//
// Payloads are kind-tagged JSON at the persistence edge only; everywhere else
// a Spec carries exactly one typed member per kind.
package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is the recurrence category of a task.
type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindCron     Kind = "cron"
)

// MinIntervalSeconds bounds polling load; sub-minute intervals are rejected.
const MinIntervalSeconds = 60

// OnceSpec fires at a single absolute instant, then never again.
type OnceSpec struct {
	RunAt time.Time `json:"runAt"`
}

// IntervalSpec fires every Seconds seconds, anchored to the last run.
type IntervalSpec struct {
	Seconds int64 `json:"intervalSeconds"`
}

// DailySpec fires at a wall-clock time in the task's timezone.
type DailySpec struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// WeeklySpec fires at a wall-clock time on a specific weekday.
// Weekday is 1=Sunday .. 7=Saturday.
type WeeklySpec struct {
	Weekday int `json:"weekday"`
	Hour    int `json:"hour"`
	Minute  int `json:"minute"`
}

// CronSpec fires per a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
type CronSpec struct {
	Expression string `json:"expression"`
}

// Spec is the tagged union of all recurrence kinds.
// Exactly one member matching Kind is non-nil.
type Spec struct {
	Kind     Kind
	Once     *OnceSpec
	Interval *IntervalSpec
	Daily    *DailySpec
	Weekly   *WeeklySpec
	Cron     *CronSpec
}

// standardCron parses classic 5-field crontab expressions.
// Descriptors ("@daily") and the optional seconds field are intentionally
// not accepted: the persisted format is the 5-field form only.
var standardCron = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Decode turns a persisted (kind, payload) pair into a typed Spec.
//
// Unknown kinds and undecodable payloads return ErrMalformed. Decode does not
// perform semantic validation; call Validate for that.
func Decode(kind Kind, payload []byte) (Spec, error) {
	sp := Spec{Kind: kind}
	var dst any
	switch kind {
	case KindOnce:
		sp.Once = &OnceSpec{}
		dst = sp.Once
	case KindInterval:
		sp.Interval = &IntervalSpec{}
		dst = sp.Interval
	case KindDaily:
		sp.Daily = &DailySpec{}
		dst = sp.Daily
	case KindWeekly:
		sp.Weekly = &WeeklySpec{}
		dst = sp.Weekly
	case KindCron:
		sp.Cron = &CronSpec{}
		dst = sp.Cron
	default:
		return Spec{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, string(kind))
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return Spec{}, fmt.Errorf("%w: kind %q: %v", ErrMalformed, string(kind), err)
	}
	return sp, nil
}

// Encode serializes the kind-specific payload for persistence.
func (s Spec) Encode() ([]byte, error) {
	var src any
	switch s.Kind {
	case KindOnce:
		src = s.Once
	case KindInterval:
		src = s.Interval
	case KindDaily:
		src = s.Daily
	case KindWeekly:
		src = s.Weekly
	case KindCron:
		src = s.Cron
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, string(s.Kind))
	}
	if src == nil || isNilPtr(src) {
		return nil, fmt.Errorf("%w: kind %q has no payload", ErrMalformed, string(s.Kind))
	}
	return json.Marshal(src)
}

func isNilPtr(v any) bool {
	switch x := v.(type) {
	case *OnceSpec:
		return x == nil
	case *IntervalSpec:
		return x == nil
	case *DailySpec:
		return x == nil
	case *WeeklySpec:
		return x == nil
	case *CronSpec:
		return x == nil
	}
	return false
}

// Validate enforces the semantic constraints for each kind.
// It is called at save time; a task is never persisted with a spec that
// fails here.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindOnce:
		if s.Once == nil {
			return fmt.Errorf("%w: once payload missing", ErrMalformed)
		}
		if s.Once.RunAt.IsZero() {
			return fmt.Errorf("%w: once.runAt is required", ErrConfig)
		}
	case KindInterval:
		if s.Interval == nil {
			return fmt.Errorf("%w: interval payload missing", ErrMalformed)
		}
		if s.Interval.Seconds < MinIntervalSeconds {
			return fmt.Errorf("%w: intervalSeconds %d is below the %d second minimum",
				ErrConfig, s.Interval.Seconds, MinIntervalSeconds)
		}
	case KindDaily:
		if s.Daily == nil {
			return fmt.Errorf("%w: daily payload missing", ErrMalformed)
		}
		if err := checkClock(s.Daily.Hour, s.Daily.Minute); err != nil {
			return err
		}
	case KindWeekly:
		if s.Weekly == nil {
			return fmt.Errorf("%w: weekly payload missing", ErrMalformed)
		}
		if s.Weekly.Weekday < 1 || s.Weekly.Weekday > 7 {
			return fmt.Errorf("%w: weekday %d out of range 1-7 (1=Sunday)", ErrConfig, s.Weekly.Weekday)
		}
		if err := checkClock(s.Weekly.Hour, s.Weekly.Minute); err != nil {
			return err
		}
	case KindCron:
		if s.Cron == nil {
			return fmt.Errorf("%w: cron payload missing", ErrMalformed)
		}
		expr := strings.TrimSpace(s.Cron.Expression)
		if expr == "" {
			return fmt.Errorf("%w: cron.expression is required", ErrConfig)
		}
		// Malformed expressions are rejected here, at save time, never
		// lazily at trigger time.
		if _, err := standardCron.Parse(expr); err != nil {
			return fmt.Errorf("%w: cron expression %q: %v", ErrMalformed, expr, err)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, string(s.Kind))
	}
	return nil
}

func checkClock(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: hour %d out of range 0-23", ErrConfig, hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("%w: minute %d out of range 0-59", ErrConfig, minute)
	}
	return nil
}

// LoadLocation resolves an IANA zone name for wall-clock kinds.
// An empty name means UTC.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrConfig, tz)
	}
	return loc, nil
}
