package config

import (
	"fmt"
	"strings"
	"time"

	"agentdeck/internal/schedule"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Agent     AgentConfig     `json:"agent"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./agentdeck.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls the task trigger loop.
//
// All durations are Go duration strings (e.g. "3s", "1m", "720h").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// PollInterval is how often the due-task poller wakes. Default "3s".
	PollInterval string `json:"poll_interval,omitempty"`

	// RunRetention prunes run records older than this. Empty keeps forever.
	RunRetention string `json:"run_retention,omitempty"`

	// RunListLimit caps run-history listings. Default 100.
	RunListLimit int `json:"run_list_limit,omitempty"`

	// Timezone is the default zone for new tasks that don't set one.
	Timezone string `json:"timezone,omitempty"`
}

// AgentConfig describes the external agent process that executes task
// prompts. A change to this section requires an agent-host restart, which
// the restart gate defers while task runs are in flight.
type AgentConfig struct {
	// Command is the agent binary. Empty disables execution; triggered
	// tasks then fail with a config error instead of running.
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`

	// DefaultProject is the working directory for tasks without their own
	// project path.
	DefaultProject string `json:"default_project,omitempty"`

	// SystemdUnit, when set, restarts the agent host via systemd instead
	// of respawning a child process.
	SystemdUnit string `json:"systemd_unit,omitempty"`

	// RestartsPerMinute throttles respawns so a crash-looping agent can't
	// spin. Default 3.
	RestartsPerMinute int `json:"restarts_per_minute,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server. The server refuses
// non-loopback addresses.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:6060"

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// Validate rejects configs that would fail later at service start: bad
// duration strings, unknown timezones, malformed storage settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.run_retention", cfg.Scheduler.RunRetention); err != nil {
		return err
	}
	if cfg.Scheduler.RunListLimit < 0 {
		return fmt.Errorf("scheduler.run_list_limit: must be >= 0")
	}
	if _, err := schedule.LoadLocation(strings.TrimSpace(cfg.Scheduler.Timezone)); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if cfg.Agent.RestartsPerMinute < 0 {
		return fmt.Errorf("agent.restarts_per_minute: must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// SchedulerPollInterval returns the parsed poll interval, falling back to
// the default on empty input. Call Validate first; parse errors here are
// swallowed into the default.
func (c SchedulerConfig) SchedulerPollInterval() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.poll_interval", c.PollInterval, 3*time.Second)
	if err != nil {
		return 3 * time.Second
	}
	return d
}

// RunRetentionDuration returns the parsed retention window, zero meaning
// keep forever.
func (c SchedulerConfig) RunRetentionDuration() time.Duration {
	d, err := ParseDurationField("scheduler.run_retention", c.RunRetention)
	if err != nil {
		return 0
	}
	return d
}
