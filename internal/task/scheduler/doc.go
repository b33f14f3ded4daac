// Package scheduler runs the scheduled-task engine: a single poller that
// detects due tasks, hands each one to the agent runtime as its own unit of
// work, records run outcomes, and keeps every task's next trigger instant
// fresh.
//
// The same Service is the API surface for the presentation layer (task CRUD,
// run-now, run history, change subscription), so every mutation funnels
// through one place that validates the schedule and recomputes nextRunAt
// before anything is persisted.
package scheduler
