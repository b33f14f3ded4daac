// Package logx wraps zerolog behind a small structured-logging API.
//
// It provides:
//   - A value-type Logger that is safe to copy and cheap to derive (With).
//   - A Service that owns the sinks (console, file) and can swap them at
//     runtime via Apply(), so a config reload never requires re-plumbing
//     loggers through the app.
//
// The zero Logger is a safe no-op.
package logx
