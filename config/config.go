// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"ironbeam_auto_go/logs"
	"ironbeam_auto_go/profit"
	"ironbeam_auto_go/risk"
)

// StreamConfig tunes the websocket session and its reconnect policy.
type StreamConfig struct {
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
	KeepAliveTimeoutSeconds int `yaml:"keep_alive_timeout_seconds"`
	InitialBackoffMS        int `yaml:"initial_backoff_ms"`
	MaxBackoffSeconds       int `yaml:"max_backoff_seconds"`
	MaxReconnectAttempts    int `yaml:"max_reconnect_attempts"`
}

// NormalConfig holds general, non-strategy configuration.
type NormalConfig struct {
	HTTPTimeoutSeconds  int     `yaml:"http_timeout_seconds"`
	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
	CallTimeoutSeconds  int     `yaml:"call_timeout_seconds"`
	MetricsListenAddr   string  `yaml:"metrics_listen_addr"`
	LogDirectory        string  `yaml:"log_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	AccountID     string  `yaml:"account_id"`
	Executor      string  `yaml:"executor"` // "threaded" or "stream"
	TickSize      float64 `yaml:"tick_size"`
	UseSimulation bool    `yaml:"use_simulation"`

	Breakeven *risk.AutoBreakevenConfig `yaml:"auto_breakeven"`
	RunningTP *profit.RunningTPConfig   `yaml:"running_tp"`

	Stream *StreamConfig `yaml:"stream"`
	Normal *NormalConfig `yaml:"normal_config"`
	Logs   *logs.Config  `yaml:"logs"`
}

// NewConfig allocates a Config with nested blocks present but zero-valued.
// All critical parameters MUST come from the yaml file; Validate enforces it.
func NewConfig() *Config {
	return &Config{
		Executor:  "threaded",
		Breakeven: &risk.AutoBreakevenConfig{},
		RunningTP: &profit.RunningTPConfig{},
		Stream:    &StreamConfig{},
		Normal:    &NormalConfig{},
		Logs:      &logs.Config{},
	}
}

// LoadConfig loads the configuration from a given path and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s, the bot cannot run without one", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the logical consistency and completeness of the
// configuration. Engine configs are additionally re-validated at
// registration time by the executors.
func (c *Config) Validate() error {
	if c.AccountID == "" && !c.UseSimulation {
		return fmt.Errorf("Critical config missing: 'account_id' must be explicitly specified in config.yaml")
	}
	if c.Executor != "threaded" && c.Executor != "stream" {
		return fmt.Errorf("Config error: executor must be 'threaded' or 'stream', got %q", c.Executor)
	}
	if c.TickSize < 0 {
		return fmt.Errorf("Config error: tick_size cannot be negative")
	}

	if c.Breakeven == nil && c.RunningTP == nil {
		return fmt.Errorf("Config error: at least one of 'auto_breakeven' or 'running_tp' must be configured")
	}
	if c.Breakeven != nil && c.Breakeven.Enabled {
		if err := c.Breakeven.Validate(); err != nil {
			return err
		}
	}
	if c.RunningTP != nil && c.RunningTP.Enabled {
		if err := c.RunningTP.Validate(); err != nil {
			return err
		}
	}
	if (c.Breakeven == nil || !c.Breakeven.Enabled) && (c.RunningTP == nil || !c.RunningTP.Enabled) {
		return fmt.Errorf("Config error: neither auto_breakeven nor running_tp is enabled, nothing to manage")
	}

	if c.Normal == nil {
		return fmt.Errorf("Critical config missing: 'normal_config' block must be provided in config.yaml")
	}
	if c.Normal.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.http_timeout_seconds' must be positive")
	}
	if c.Normal.PollIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.poll_interval_seconds' must be positive")
	}
	if c.Normal.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.call_timeout_seconds' must be positive")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.log_directory' must be specified (e.g. 'logs')")
	}

	if c.Executor == "stream" {
		if c.Stream == nil {
			return fmt.Errorf("Critical config missing: 'stream' block must be provided for the stream executor")
		}
		if c.Stream.MaxReconnectAttempts <= 0 {
			return fmt.Errorf("Critical config missing: 'stream.max_reconnect_attempts' must be positive")
		}
		if c.Stream.MaxBackoffSeconds <= 0 {
			return fmt.Errorf("Critical config missing: 'stream.max_backoff_seconds' must be positive")
		}
	}

	if c.Logs == nil {
		return fmt.Errorf("Critical config missing: 'logs' block must be provided in config.yaml")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Critical config missing: 'logs.log_level' must be specified (e.g. 'info')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_size_mb' must be positive")
	}

	return nil
}

// EnvConfig carries credentials loaded from the environment.
type EnvConfig struct {
	Username string
	ApiKey   string
	Password string
	BaseURL  string
}

// LoadEnvConfig reads the Ironbeam credentials from the environment.
func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		Username: os.Getenv("IRONBEAM_USERNAME"),
		ApiKey:   os.Getenv("IRONBEAM_API_KEY"),
		Password: os.Getenv("IRONBEAM_PASSWORD"),
		BaseURL:  os.Getenv("IRONBEAM_BASE_URL"),
	}
}
