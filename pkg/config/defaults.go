package config

import (
	"strings"
	"time"
)

// Defaults for every configurable value. These match the documented
// environment surface of the service.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 9099
	DefaultRoot            = "./server_root"
	DefaultAdminToken      = "letmein"
	DefaultMaxSessions     = 8
	DefaultIdleTimeout     = 120 * time.Second
	DefaultReadonlyDelay   = 120 * time.Millisecond
	DefaultShutdownTimeout = 30 * time.Second
	DefaultStatsInterval   = 5 * time.Second
	DefaultStatsPath       = "server_stats.json"
	DefaultMessageLogPath  = "messages.log"
	DefaultMetricsPort     = 9091
)

// GetDefaultConfig returns a fully populated default configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero values with defaults. Explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStatsDefaults(&cfg.Stats)
	applyMessageLogDefaults(&cfg.MessageLog)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.AdminToken == "" {
		cfg.AdminToken = DefaultAdminToken
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReadonlyDelay == 0 {
		cfg.ReadonlyDelay = DefaultReadonlyDelay
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyStatsDefaults(cfg *StatsConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultStatsInterval
	}
	if cfg.Path == "" {
		cfg.Path = DefaultStatsPath
	}
}

func applyMessageLogDefaults(cfg *MessageLogConfig) {
	if cfg.Path == "" {
		cfg.Path = DefaultMessageLogPath
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}
