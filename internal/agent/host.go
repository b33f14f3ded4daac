package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	logx "agentdeck/pkg/logx"
)

// Config describes how the host reaches the agent runtime.
type Config struct {
	// Command is the agent CLI binary; Args are prepended to every invocation.
	Command string
	Args    []string

	// DefaultProject is the working directory used when a task carries no
	// projectPath override.
	DefaultProject string

	// SystemdUnit, when set on linux, names the unit hosting the resident
	// agent service; restarts then go through systemd instead of killing a
	// child process.
	SystemdUnit string

	// RestartsPerMinute throttles host restarts. Zero means the default.
	RestartsPerMinute int
}

const defaultRestartsPerMinute = 3

var (
	ErrNoCommand        = errors.New("agent command not configured")
	ErrRestartThrottled = errors.New("agent host restart throttled")
)

// Host owns the resident agent runtime process and performs per-trigger CLI
// invocations. It implements Runtime and the restart gate's Restarter.
type Host struct {
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	proc    *exec.Cmd // resident child, nil when systemd-managed or not started
}

func NewHost(cfg Config, log logx.Logger) *Host {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Host{cfg: cfg, log: log, limiter: newRestartLimiter(cfg)}
}

func newRestartLimiter(cfg Config) *rate.Limiter {
	per := cfg.RestartsPerMinute
	if per <= 0 {
		per = defaultRestartsPerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(per)), per)
}

// Apply swaps the host config. The resident process keeps running; the next
// restart picks up the new command line.
func (h *Host) Apply(cfg Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.limiter = newRestartLimiter(cfg)
	h.mu.Unlock()
}

// Start launches the resident agent service when one is configured as a
// child process. Systemd-managed units are assumed to be running already.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cfg.SystemdUnit != "" || strings.TrimSpace(h.cfg.Command) == "" {
		return nil
	}
	return h.spawnLocked(ctx)
}

// spawnLocked starts the resident service child ("serve" mode).
func (h *Host) spawnLocked(ctx context.Context) error {
	args := append(append([]string(nil), h.cfg.Args...), "serve")
	cmd := exec.Command(h.cfg.Command, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent service: %w", err)
	}
	h.proc = cmd
	h.log.Info("agent service started", logx.String("cmd", h.cfg.Command), logx.Int("pid", cmd.Process.Pid))

	// Reap in the background so the child never zombies.
	go func() { _ = cmd.Wait() }()
	return nil
}

// Stop terminates the resident child, if any.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	proc := h.proc
	h.proc = nil
	h.mu.Unlock()

	if proc == nil || proc.Process == nil {
		return nil
	}
	if err := proc.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone is fine.
		return nil
	}
	// Give it a moment, then force.
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
	_ = proc.Process.Kill()
	return nil
}

// Restart restarts the agent host process. The restart gate guarantees no
// task is mid-flight when this is called.
func (h *Host) Restart(ctx context.Context) error {
	h.mu.Lock()
	cfg := h.cfg
	lim := h.limiter
	h.mu.Unlock()

	if !lim.Allow() {
		return ErrRestartThrottled
	}

	if cfg.SystemdUnit != "" {
		h.log.Info("restarting agent service unit", logx.String("unit", cfg.SystemdUnit))
		return restartUnit(ctx, cfg.SystemdUnit)
	}

	if strings.TrimSpace(cfg.Command) == "" {
		return ErrNoCommand
	}
	if err := h.Stop(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spawnLocked(ctx)
}

// Run invokes the agent CLI once for a triggered task and waits for it to
// finish. Agent output is discarded except for a capped stderr tail, which
// becomes the failure message.
func (h *Host) Run(ctx context.Context, req RunRequest) error {
	h.mu.Lock()
	cfg := h.cfg
	h.mu.Unlock()

	if strings.TrimSpace(cfg.Command) == "" {
		return ErrNoCommand
	}

	args := buildRunArgs(cfg, req)
	cmd := exec.CommandContext(ctx, cfg.Command, args...)
	if dir := workDir(cfg, req); dir != "" {
		cmd.Dir = dir
	}

	var stderr tailBuffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)
	if err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		h.log.Warn("agent run failed", logx.Err(err), logx.Duration("dur", dur))
		return errors.New(msg)
	}
	h.log.Debug("agent run finished", logx.Duration("dur", dur))
	return nil
}

func buildRunArgs(cfg Config, req RunRequest) []string {
	args := append(append([]string(nil), cfg.Args...), "run", "--prompt", req.Prompt)
	if req.Agent != "" {
		args = append(args, "--agent", req.Agent)
	}
	return args
}

func workDir(cfg Config, req RunRequest) string {
	if req.ProjectPath != "" {
		return req.ProjectPath
	}
	return cfg.DefaultProject
}

// tailBuffer keeps the last tailLimit bytes written, so a chatty agent
// cannot balloon a failure message.
type tailBuffer struct {
	buf bytes.Buffer
}

const tailLimit = 2048

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= tailLimit {
		b.buf.Reset()
		p = p[n-tailLimit:]
	} else if b.buf.Len()+n > tailLimit {
		over := b.buf.Len() + n - tailLimit
		rest := b.buf.Bytes()[over:]
		cp := append([]byte(nil), rest...)
		b.buf.Reset()
		b.buf.Write(cp)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(b.buf.String())
}
