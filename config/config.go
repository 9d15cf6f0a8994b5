package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport   string `mapstructure:"transport"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// SandboxConfig holds snippet execution configuration
type SandboxConfig struct {
	TimeoutSec         int    `mapstructure:"timeout_sec"`
	MaxTimeoutSec      int    `mapstructure:"max_timeout_sec"`
	GracePeriodMS      int    `mapstructure:"grace_period_ms"`
	MaxConcurrent      int    `mapstructure:"max_concurrent"`
	MaxOutputKB        int    `mapstructure:"max_output_kb"`
	MaxSteps           uint64 `mapstructure:"max_steps"`
	MemoryMB           int    `mapstructure:"memory_mb"`
	CollectAllFindings bool   `mapstructure:"collect_all_findings"`
	WorkerPath         string `mapstructure:"worker_path"`
}

// PolicyConfig points at the trust boundary document
type PolicyConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SNIPPETBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 0)

	v.SetDefault("sandbox.timeout_sec", 30)
	v.SetDefault("sandbox.max_timeout_sec", 300)
	v.SetDefault("sandbox.grace_period_ms", 1000)
	v.SetDefault("sandbox.max_concurrent", 0)
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.max_steps", 0)
	v.SetDefault("sandbox.memory_mb", 0)
	v.SetDefault("sandbox.collect_all_findings", false)
	v.SetDefault("sandbox.worker_path", "")

	v.SetDefault("policy.file", "")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.MetricsPort < 0 {
		return fmt.Errorf("server.metrics_port must not be negative, got: %d", c.Server.MetricsPort)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MaxTimeoutSec < c.Sandbox.TimeoutSec {
		return fmt.Errorf("sandbox.max_timeout_sec must be at least sandbox.timeout_sec, got: %d < %d",
			c.Sandbox.MaxTimeoutSec, c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.GracePeriodMS <= 0 {
		return fmt.Errorf("sandbox.grace_period_ms must be positive, got: %d", c.Sandbox.GracePeriodMS)
	}

	if c.Sandbox.MaxConcurrent < 0 {
		return fmt.Errorf("sandbox.max_concurrent must not be negative, got: %d", c.Sandbox.MaxConcurrent)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.MemoryMB < 0 {
		return fmt.Errorf("sandbox.memory_mb must not be negative, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the default execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetGracePeriod returns how long a timed-out worker gets between SIGTERM and SIGKILL
func (c *Config) GetGracePeriod() time.Duration {
	return time.Duration(c.Sandbox.GracePeriodMS) * time.Millisecond
}
