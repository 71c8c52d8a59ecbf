package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultLeavesHostServicesAlone(t *testing.T) {
	cfg := Default()
	if cfg.StopServices {
		t.Fatalf("stop_services must be opt-in")
	}
	if len(cfg.Services) == 0 {
		t.Fatalf("default service list should still name the units to stop when asked")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"port zero":     func(c *Config) { c.Port = 0 },
		"port too high": func(c *Config) { c.Port = 70000 },
		"no command":    func(c *Config) { c.Command = nil },
		"blank command": func(c *Config) { c.Command = []string{" "} },
		"negative gpu":  func(c *Config) { c.GPUIndex = -1 },
		"negative wait": func(c *Config) { c.SettleMS = -5 },
		"negative smoke": func(c *Config) { c.SmokeTimeoutS = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SERVECTL_PORT", "31234")
	t.Setenv("SERVECTL_HOST", "127.0.0.1")
	t.Setenv("SERVECTL_KILL_FOREIGN", "yes")
	t.Setenv("SERVECTL_LOG_LEVEL", "debug")
	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Port != 31234 || cfg.Host != "127.0.0.1" || !cfg.KillForeign || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}

	t.Setenv("SERVECTL_CORS_ORIGINS", "http://a.test, ,http://b.test")
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "http://a.test" || cfg.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("cors origins: %q", cfg.CORSOrigins)
	}

	t.Setenv("SERVECTL_PORT", "abc")
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatalf("expected error for malformed port")
	}
}

func TestDurations(t *testing.T) {
	cfg := Config{SettleMS: 1500, ReadyTimeoutS: 3, PollIntervalMS: 20, StopGraceS: 1, SmokeTimeoutS: 7}
	if cfg.SmokeTimeout() != 7*time.Second {
		t.Fatalf("smoke timeout=%v", cfg.SmokeTimeout())
	}
	if Default().SmokeTimeout() <= 0 {
		t.Fatalf("default smoke timeout must be bounded")
	}
	if cfg.SettleInterval() != 1500*time.Millisecond || cfg.ReadyTimeout() != 3*time.Second ||
		cfg.PollInterval() != 20*time.Millisecond || cfg.StopGrace() != time.Second {
		t.Fatalf("unexpected durations: %v %v %v %v", cfg.SettleInterval(), cfg.ReadyTimeout(), cfg.PollInterval(), cfg.StopGrace())
	}
}

func TestEngineCommandUsesRuntimeEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg := Default()

	// no env yet: command untouched
	if got := cfg.EngineCommand(); got[0] != "python3" {
		t.Fatalf("expected python3, got %v", got)
	}

	bin := filepath.Join(home, "sglang-env", "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	py := filepath.Join(bin, "python")
	if err := os.WriteFile(py, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := cfg.EngineCommand()
	if got[0] != py || got[1] != "-m" || got[2] != "sglang.launch_server" {
		t.Fatalf("unexpected command: %v", got)
	}
	if cfg.Command[0] != "python3" {
		t.Fatalf("EngineCommand must not mutate config")
	}

	cfg.Command = []string{"/opt/engine/serve"}
	if got := cfg.EngineCommand(); got[0] != "/opt/engine/serve" {
		t.Fatalf("non-python command must be kept, got %v", got)
	}
}
