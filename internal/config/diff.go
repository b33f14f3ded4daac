package config

import (
	"reflect"
	"sort"
	"strings"

	logx "agentdeck/pkg/logx"
)

// SummarizeConfigChange returns a compact sorted list of changed sections and
// safe structured attrs for logging (never includes secrets like tokens).
//
// The "agent" section is the one callers care most about: a change there
// needs an agent-host restart, routed through the restart gate.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Scheduler
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.run_retention", strings.TrimSpace(newCfg.Scheduler.RunRetention)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Agent (Args is a slice, so no struct equality here)
	if !reflect.DeepEqual(oldCfg.Agent, newCfg.Agent) {
		changed = append(changed, "agent")
		attrs = append(attrs,
			logx.Bool("agent.command_set", strings.TrimSpace(newCfg.Agent.Command) != ""),
			logx.Int("agent.args", len(newCfg.Agent.Args)),
			logx.Bool("agent.systemd_unit_set", strings.TrimSpace(newCfg.Agent.SystemdUnit) != ""),
			logx.Int("agent.restarts_per_minute", newCfg.Agent.RestartsPerMinute),
		)
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// SectionChanged reports whether name is in the changed list.
func SectionChanged(changed []string, name string) bool {
	for _, c := range changed {
		if c == name {
			return true
		}
	}
	return false
}
