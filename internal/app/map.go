package app

import (
	"strings"
	"time"

	"agentdeck/internal/agent"
	"agentdeck/internal/config"
	"agentdeck/internal/observability/pprof"
	"agentdeck/internal/storage"
	"agentdeck/internal/task/scheduler"
)

const defaultStorePath = "./agentdeck.db"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultStorePath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, 3*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	retention, err := config.ParseDurationField("scheduler.run_retention", cfg.Scheduler.RunRetention)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		PollInterval: poll,
		RunRetention: retention,
		RunListLimit: cfg.Scheduler.RunListLimit,
	}, nil
}

func mapAgentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		Command:           strings.TrimSpace(cfg.Agent.Command),
		Args:              append([]string(nil), cfg.Agent.Args...),
		DefaultProject:    strings.TrimSpace(cfg.Agent.DefaultProject),
		SystemdUnit:       strings.TrimSpace(cfg.Agent.SystemdUnit),
		RestartsPerMinute: cfg.Agent.RestartsPerMinute,
	}
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	read, err := config.ParseDurationField("pprof.read_timeout", cfg.Pprof.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := config.ParseDurationField("pprof.write_timeout", cfg.Pprof.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationField("pprof.idle_timeout", cfg.Pprof.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 cfg.Pprof.Addr,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
		MemProfileRate:       cfg.Pprof.MemProfileRate,
	}, nil
}
