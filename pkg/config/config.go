// Package config loads and validates the FSGate configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (FSGATE_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Example environment overrides:
//
//	FSGATE_SERVER_PORT=9099
//	FSGATE_SERVER_ADMIN_TOKEN=changeme
//	FSGATE_LOGGING_LEVEL=DEBUG
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete FSGate configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the TCP file-access service.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Stats configures the periodic statistics report.
	Stats StatsConfig `mapstructure:"stats" yaml:"stats"`

	// MessageLog configures the append-only request log.
	MessageLog MessageLogConfig `mapstructure:"message_log" yaml:"message_log"`

	// Metrics configures the optional Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, or ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the listener and session policy.
type ServerConfig struct {
	// Host is the address to bind.
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Root is the sandbox root directory. Created at startup if missing;
	// no client path may resolve outside it.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// AdminToken grants the admin role to handshakes presenting it.
	AdminToken string `mapstructure:"admin_token" validate:"required" yaml:"admin_token"`

	// MaxSessions caps concurrent sessions; further connections receive a
	// busy reply and are closed.
	MaxSessions int `mapstructure:"max_sessions" validate:"required,min=1" yaml:"max_sessions"`

	// IdleTimeout bounds the per-line blocking read. Sessions idle beyond
	// it receive a timeout reply and are disconnected.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"required,gt=0" yaml:"idle_timeout"`

	// ReadonlyDelay is the artificial delay before processing commands from
	// readonly sessions. Unset values take the default; a negative value
	// disables the delay entirely.
	ReadonlyDelay time.Duration `mapstructure:"readonly_delay" yaml:"readonly_delay"`

	// ShutdownTimeout is the maximum wait for active connections to finish
	// during graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// StatsConfig configures the stats snapshotter.
type StatsConfig struct {
	// Interval between report writes.
	Interval time.Duration `mapstructure:"interval" validate:"required,gt=0" yaml:"interval"`

	// Path of the JSON report file, overwritten each interval.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// MessageLogConfig configures the append-only request log.
type MessageLogConfig struct {
	// Path of the log file.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// MetricsConfig configures the Prometheus endpoint. Disabled by default.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port for the telemetry HTTP server.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load reads configuration from file, environment, and defaults.
// configPath may be empty, in which case only environment variables and
// defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes cfg to path in YAML. Used by "fsgate init". The file is
// written with owner-only permissions because it contains the admin token.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(yamlView(cfg))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// yamlView renders cfg for the config file. Durations are written as strings
// ("120s") rather than raw nanosecond integers so a saved file loads back to
// the same values.
func yamlView(cfg *Config) map[string]any {
	return map[string]any{
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
		"server": map[string]any{
			"host":             cfg.Server.Host,
			"port":             cfg.Server.Port,
			"root":             cfg.Server.Root,
			"admin_token":      cfg.Server.AdminToken,
			"max_sessions":     cfg.Server.MaxSessions,
			"idle_timeout":     cfg.Server.IdleTimeout.String(),
			"readonly_delay":   cfg.Server.ReadonlyDelay.String(),
			"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
		},
		"stats": map[string]any{
			"interval": cfg.Stats.Interval.String(),
			"path":     cfg.Stats.Path,
		},
		"message_log": map[string]any{
			"path": cfg.MessageLog.Path,
		},
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
			"port":    cfg.Metrics.Port,
		},
	}
}

// setupViper wires environment variable support and the config file path.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys must be declared for AutomaticEnv to pick them up during
	// Unmarshal when no config file sets them.
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			// BindEnv only fails on empty input; the key list is static.
			panic(err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

// configKeys enumerates every settable key so environment-only operation
// works without a config file.
var configKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.host",
	"server.port",
	"server.root",
	"server.admin_token",
	"server.max_sessions",
	"server.idle_timeout",
	"server.readonly_delay",
	"server.shutdown_timeout",
	"stats.interval",
	"stats.path",
	"message_log.path",
	"metrics.enabled",
	"metrics.port",
}

// durationDecodeHook parses duration strings ("120s", "1m30s") and bare
// numbers (interpreted as seconds) into time.Duration fields.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			s := data.(string)
			if d, err := time.ParseDuration(s); err == nil {
				return d, nil
			}
			var secs float64
			if _, err := fmt.Sscanf(s, "%g", &secs); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
			return nil, fmt.Errorf("invalid duration %q", s)
		case reflect.Int, reflect.Int64, reflect.Float64:
			secs := reflect.ValueOf(data).Convert(reflect.TypeOf(float64(0))).Float()
			return time.Duration(secs * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}
