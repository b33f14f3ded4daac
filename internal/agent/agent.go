// Package agent is the boundary to the autonomous agent runtime.
//
// The engine treats the runtime as an opaque collaborator: one Run call per
// trigger, a nil error meaning success. Everything behind that call (network,
// file edits, shell commands) belongs to the agent itself.
package agent

import "context"

// RunRequest is one delegated unit of work.
type RunRequest struct {
	Prompt string

	// Optional per-task overrides; empty means the host's defaults.
	ProjectPath string
	Agent       string
}

// Runtime executes a prompt and reports the outcome. The error string, when
// non-nil, becomes the run record's errorMessage. Implementations manage
// their own timeouts; callers may still cancel via ctx.
type Runtime interface {
	Run(ctx context.Context, req RunRequest) error
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, req RunRequest) error

func (f RuntimeFunc) Run(ctx context.Context, req RunRequest) error { return f(ctx, req) }
