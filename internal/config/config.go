// Package config provides configuration management for dtvproxy using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort            = 8080
	defaultServerTimeout         = 30 * time.Second
	defaultShutdownTimeout       = 10 * time.Second
	defaultStaticProxyPort       = 34721
	defaultDebugProxyPort        = 34719
	defaultProxyKeepAlive        = 120 * time.Second
	defaultProxyIdleConnsPerHost = 4
	defaultProxyDialKeepAlive    = 60 * time.Second
	defaultProxyRequestTimeout   = 2 * time.Hour
	defaultSegmentMinutes        = 30
	minSegmentMinutes            = 1
	maxSegmentMinutes            = 1440
	defaultOfflineRetryBudget    = 5
	defaultReconnectBaseDelay    = 2 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Recording RecordingConfig `mapstructure:"recording"`
}

// ServerConfig holds the HTTP API server configuration (command surface, not the media proxies).
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ProxyConfig holds FLV/image proxy configuration.
type ProxyConfig struct {
	// StaticPort is the fixed loopback port serving /live.flv and /image (idempotent startup).
	// The proxy package binds its own constant port (34721) and does not read this field.
	StaticPort int `mapstructure:"static_port"`
	// DebugPort is a second fixed loopback port kept for parity with the legacy debug proxy.
	// The proxy package binds its own constant port (34719) and does not read this field.
	DebugPort int `mapstructure:"debug_port"`
	// KeepAlive is the local server's HTTP keep-alive duration. The proxy
	// servers use a fixed 120s idle timeout and do not read this field.
	KeepAlive time.Duration `mapstructure:"keep_alive"`
	// IdleConnsPerHost bounds the outbound client's idle connection pool per upstream host.
	IdleConnsPerHost int `mapstructure:"idle_conns_per_host"`
	// DialKeepAlive is the outbound TCP keep-alive interval.
	DialKeepAlive time.Duration `mapstructure:"dial_keep_alive"`
	// RequestTimeout bounds a single outbound relay/recording request (connect through body).
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RecordingConfig holds live-recording engine configuration.
type RecordingConfig struct {
	// OutputDir overrides the default "Videos/DTV" output root; empty means auto-detect.
	OutputDir string `mapstructure:"output_dir"`
	// SegmentMinutes is the default segment rollover interval, clamped to [1, 1440].
	SegmentMinutes int `mapstructure:"segment_minutes"`
	// OfflineRetryBudget is the number of consecutive offline detections before a task retires.
	// The recording engine does not read this field; it retires a task after a fixed 5.
	OfflineRetryBudget int `mapstructure:"offline_retry_budget"`
	// ReconnectBaseDelay is the first step of the reconnect backoff schedule.
	// The recording engine does not read this field; its schedule is fixed at 2s/5s/10s/30s.
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with DTVPROXY_ and use underscores for nesting.
// Example: DTVPROXY_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dtvproxy")
		v.AddConfigPath("$HOME/.dtvproxy")
	}

	// Environment variable settings
	v.SetEnvPrefix("DTVPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Proxy defaults
	v.SetDefault("proxy.static_port", defaultStaticProxyPort)
	v.SetDefault("proxy.debug_port", defaultDebugProxyPort)
	v.SetDefault("proxy.keep_alive", defaultProxyKeepAlive)
	v.SetDefault("proxy.idle_conns_per_host", defaultProxyIdleConnsPerHost)
	v.SetDefault("proxy.dial_keep_alive", defaultProxyDialKeepAlive)
	v.SetDefault("proxy.request_timeout", defaultProxyRequestTimeout)

	// Recording defaults
	v.SetDefault("recording.output_dir", "")
	v.SetDefault("recording.segment_minutes", defaultSegmentMinutes)
	v.SetDefault("recording.offline_retry_budget", defaultOfflineRetryBudget)
	v.SetDefault("recording.reconnect_base_delay", defaultReconnectBaseDelay)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535

	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Proxy validation
	if c.Proxy.StaticPort < 1 || c.Proxy.StaticPort > maxPort {
		return fmt.Errorf("proxy.static_port must be between 1 and %d", maxPort)
	}
	if c.Proxy.DebugPort < 1 || c.Proxy.DebugPort > maxPort {
		return fmt.Errorf("proxy.debug_port must be between 1 and %d", maxPort)
	}
	if c.Proxy.IdleConnsPerHost < 1 {
		return fmt.Errorf("proxy.idle_conns_per_host must be at least 1")
	}

	// Recording validation
	if c.Recording.SegmentMinutes < 0 {
		return fmt.Errorf("recording.segment_minutes must not be negative")
	}
	if c.Recording.OfflineRetryBudget < 1 {
		return fmt.Errorf("recording.offline_retry_budget must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NormalizedSegmentMinutes clamps the configured segment duration to [1, 1440],
// substituting the package default for zero/unset.
func (c *RecordingConfig) NormalizedSegmentMinutes() int {
	if c.SegmentMinutes <= 0 {
		return defaultSegmentMinutes
	}
	if c.SegmentMinutes < minSegmentMinutes {
		return minSegmentMinutes
	}
	if c.SegmentMinutes > maxSegmentMinutes {
		return maxSegmentMinutes
	}
	return c.SegmentMinutes
}
