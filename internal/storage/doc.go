package storage

// Package storage persists scheduled tasks and their run history.
//
// Two tables, one invariant: a task row is always written whole (no partial
// field updates), so a task can never be observed with a stale next_run_at
// relative to its other fields. Run rows are append-then-finalize and are
// kept even after their task is deleted (audit trail).
