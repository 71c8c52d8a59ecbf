package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"servectl/internal/common/fsutil"
)

// Defaults mirror the values the launch scripts hard-coded.
const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 30000
	DefaultDType          = "half"
	DefaultRuntimeEnv     = "~/sglang-env"
	DefaultSignature      = "sglang.launch_server"
	DefaultMinFreeMiB     = 10000
	DefaultSettleMS       = 2000
	DefaultReadyTimeoutS  = 600
	DefaultPollIntervalMS = 2000
	DefaultStopGraceS     = 5
	DefaultServerLog      = "~/.cache/servectl/server.log"
	DefaultSmokePrompt    = "The capital of France is"
	DefaultSmokeTimeoutS  = 120
)

// DefaultCommand is the engine entrypoint; the interpreter is swapped for the
// runtime environment's python when one exists.
var DefaultCommand = []string{"python3", "-m", "sglang.launch_server"}

// Config holds runtime parameters for the launcher.
type Config struct {
	Host       string   `json:"host" yaml:"host" toml:"host"`
	Port       int      `json:"port" yaml:"port" toml:"port"`
	Command    []string `json:"command" yaml:"command" toml:"command"`
	RuntimeEnv string   `json:"runtime_env" yaml:"runtime_env" toml:"runtime_env"`
	DType      string   `json:"dtype" yaml:"dtype" toml:"dtype"`
	GPUIndex   int      `json:"gpu_index" yaml:"gpu_index" toml:"gpu_index"`

	ProfilesFile string `json:"profiles_file" yaml:"profiles_file" toml:"profiles_file"`

	// Reconciliation
	Signature    string   `json:"signature" yaml:"signature" toml:"signature"`
	MinFreeMiB   int      `json:"min_free_mib" yaml:"min_free_mib" toml:"min_free_mib"`
	SettleMS     int      `json:"settle_ms" yaml:"settle_ms" toml:"settle_ms"`
	KillForeign  bool     `json:"kill_foreign" yaml:"kill_foreign" toml:"kill_foreign"`
	StopServices bool     `json:"stop_services" yaml:"stop_services" toml:"stop_services"`
	Services     []string `json:"services" yaml:"services" toml:"services"`

	// Supervision
	NoWait         bool   `json:"no_wait" yaml:"no_wait" toml:"no_wait"`
	ReadyTimeoutS  int    `json:"ready_timeout_s" yaml:"ready_timeout_s" toml:"ready_timeout_s"`
	PollIntervalMS int    `json:"poll_interval_ms" yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	StopGraceS     int    `json:"stop_grace_s" yaml:"stop_grace_s" toml:"stop_grace_s"`
	ServerLog      string `json:"server_log" yaml:"server_log" toml:"server_log"`

	// Ambient
	LogLevel    string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile     string `json:"log_file" yaml:"log_file" toml:"log_file"`
	StatusAddr    string `json:"status_addr" yaml:"status_addr" toml:"status_addr"`
	SmokePrompt   string `json:"smoke_prompt" yaml:"smoke_prompt" toml:"smoke_prompt"`
	SmokeTimeoutS int    `json:"smoke_timeout_s" yaml:"smoke_timeout_s" toml:"smoke_timeout_s"`

	// CORS for the status endpoint; empty origins leaves CORS off.
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	CORSMethods []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods"`
	CORSHeaders []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers"`
}

// Default returns a Config populated with package defaults.
func Default() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Command:        append([]string(nil), DefaultCommand...),
		RuntimeEnv:     DefaultRuntimeEnv,
		DType:          DefaultDType,
		Signature:      DefaultSignature,
		MinFreeMiB:     DefaultMinFreeMiB,
		SettleMS:       DefaultSettleMS,
		Services:       []string{"display-manager"},
		ReadyTimeoutS:  DefaultReadyTimeoutS,
		PollIntervalMS: DefaultPollIntervalMS,
		StopGraceS:     DefaultStopGraceS,
		ServerLog:      DefaultServerLog,
		LogLevel:       "info",
		SmokePrompt:    DefaultSmokePrompt,
		SmokeTimeoutS:  DefaultSmokeTimeoutS,
	}
}

// ApplyEnv overrides fields from SERVECTL_* environment variables.
// Malformed numeric values are reported rather than silently ignored.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("SERVECTL_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("SERVECTL_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVECTL_PORT: %w", err)
		}
		c.Port = n
	}
	if v := os.Getenv("SERVECTL_GPU_INDEX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVECTL_GPU_INDEX: %w", err)
		}
		c.GPUIndex = n
	}
	if v := os.Getenv("SERVECTL_RUNTIME_ENV"); v != "" {
		c.RuntimeEnv = v
	}
	if v := os.Getenv("SERVECTL_PROFILES"); v != "" {
		c.ProfilesFile = v
	}
	if v := os.Getenv("SERVECTL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SERVECTL_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("SERVECTL_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("SERVECTL_KILL_FOREIGN"); v != "" {
		s := strings.ToLower(v)
		c.KillForeign = s == "1" || s == "true" || s == "yes"
	}
	return nil
}

// Validate checks ranges that would otherwise surface as confusing engine errors.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if len(c.Command) == 0 || strings.TrimSpace(c.Command[0]) == "" {
		return fmt.Errorf("empty engine command")
	}
	if c.GPUIndex < 0 {
		return fmt.Errorf("gpu_index must be >= 0, got %d", c.GPUIndex)
	}
	if c.MinFreeMiB < 0 || c.SettleMS < 0 || c.ReadyTimeoutS < 0 || c.PollIntervalMS < 0 || c.StopGraceS < 0 || c.SmokeTimeoutS < 0 {
		return fmt.Errorf("negative threshold or interval in config")
	}
	return nil
}

func (c Config) SettleInterval() time.Duration { return time.Duration(c.SettleMS) * time.Millisecond }
func (c Config) ReadyTimeout() time.Duration   { return time.Duration(c.ReadyTimeoutS) * time.Second }
func (c Config) PollInterval() time.Duration   { return time.Duration(c.PollIntervalMS) * time.Millisecond }
func (c Config) StopGrace() time.Duration      { return time.Duration(c.StopGraceS) * time.Second }
func (c Config) SmokeTimeout() time.Duration   { return time.Duration(c.SmokeTimeoutS) * time.Second }

// splitList parses a comma-separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EngineCommand returns the command prefix with the interpreter resolved against
// the runtime environment under the user's home directory.
func (c Config) EngineCommand() []string {
	cmd := append([]string(nil), c.Command...)
	if len(cmd) == 0 {
		return cmd
	}
	if cmd[0] == "python" || cmd[0] == "python3" {
		if p, ok := fsutil.EnvExecutable(c.RuntimeEnv, "python"); ok {
			cmd[0] = p
		}
	}
	return cmd
}
