package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  path: ./tasks.db
scheduler:
  enabled: true
  poll_interval: 5s
  timezone: Asia/Jakarta
agent:
  command: /usr/local/bin/agent
  args: ["--headless"]
  restarts_per_minute: 4
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "./tasks.db" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.PollInterval != "5s" || cfg.Scheduler.Timezone != "Asia/Jakarta" {
		t.Fatalf("scheduler: %+v", cfg.Scheduler)
	}
	if cfg.Agent.Command != "/usr/local/bin/agent" || len(cfg.Agent.Args) != 1 || cfg.Agent.RestartsPerMinute != 4 {
		t.Fatalf("agent: %+v", cfg.Agent)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler":{"enabled":true,"wrkers":3}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"zero config", func(c *Config) {}, true},
		{"bad poll interval", func(c *Config) { c.Scheduler.PollInterval = "fast" }, false},
		{"negative retention", func(c *Config) { c.Scheduler.RunRetention = "-1h" }, false},
		{"unknown timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, false},
		{"bad busy timeout", func(c *Config) { c.Storage.BusyTimeout = "soon" }, false},
		{"negative restarts", func(c *Config) { c.Agent.RestartsPerMinute = -1 }, false},
	}
	for _, tc := range cases {
		var cfg Config
		tc.mut(&cfg)
		err := Validate(&cfg)
		if tc.ok && err != nil {
			t.Errorf("%s: Validate = %v, want nil", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: Validate = nil, want error", tc.name)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{}
	newCfg.Agent.Command = "/usr/local/bin/agent"
	newCfg.Logging.Level = "debug"

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if !SectionChanged(changed, "agent") || !SectionChanged(changed, "logging") {
		t.Fatalf("changed = %v", changed)
	}
	if SectionChanged(changed, "scheduler") || SectionChanged(changed, "storage") {
		t.Fatalf("unchanged sections reported: %v", changed)
	}

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("no-op diff reported %v", changed)
	}
}
