// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Operations OperationsConfig `mapstructure:"operations"`
	Events     EventsConfig     `mapstructure:"events"`
	Push       PushConfig       `mapstructure:"push"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig controls access to the backend's relational database. An
// empty DSN runs the service without one; game names fall back to generic
// labels and database-bound operations become no-ops.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// ProcessorConfig locates the external cache processor binary.
type ProcessorConfig struct {
	Binary         string `mapstructure:"binary"`
	LaunchAttempts uint   `mapstructure:"launch_attempts"`
	LaunchDelayMs  int    `mapstructure:"launch_delay_ms"`
}

// OperationsConfig tunes the operation registry.
type OperationsConfig struct {
	RetainCompletedMin int `mapstructure:"retain_completed_minutes"`
}

// EventsConfig tunes the event hub batching behavior.
type EventsConfig struct {
	BufferSize      int `mapstructure:"buffer_size"`
	MaxBatchEvents  int `mapstructure:"max_batch_events"`
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
	SinkTimeoutSec  int `mapstructure:"sink_timeout_seconds"`
}

// PushConfig tunes the WebSocket broadcaster.
type PushConfig struct {
	SendBuffer      int `mapstructure:"send_buffer"`
	WriteTimeoutSec int `mapstructure:"write_timeout_seconds"`
	PingIntervalSec int `mapstructure:"ping_interval_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CACHEOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", false)
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.conn_lifetime_minutes", 30)
	v.SetDefault("processor.binary", "/usr/local/bin/cache-processor")
	v.SetDefault("processor.launch_attempts", 3)
	v.SetDefault("processor.launch_delay_ms", 200)
	v.SetDefault("operations.retain_completed_minutes", 15)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 64)
	v.SetDefault("events.flush_interval_ms", 250)
	v.SetDefault("events.sink_timeout_seconds", 5)
	v.SetDefault("push.send_buffer", 64)
	v.SetDefault("push.write_timeout_seconds", 5)
	v.SetDefault("push.ping_interval_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Processor.Binary == "" {
		return fmt.Errorf("processor.binary must be set")
	}
	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events.buffer_size must be > 0")
	}
	return nil
}

// ServerTimeout converts the request timeout into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// RetainCompleted converts the retention window into a duration.
func (c Config) RetainCompleted() time.Duration {
	return time.Duration(c.Operations.RetainCompletedMin) * time.Minute
}

// FlushInterval converts the hub flush cadence into a duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Events.FlushIntervalMs) * time.Millisecond
}

// LaunchDelay converts the processor launch backoff into a duration.
func (c Config) LaunchDelay() time.Duration {
	return time.Duration(c.Processor.LaunchDelayMs) * time.Millisecond
}

// ConnLifetime converts the pool connection lifetime into a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.Database.ConnLifetimeMin) * time.Minute
}
