// Package config loads the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxSyncInterval bounds hue.sync_interval.
const MaxSyncInterval = 24 * time.Hour

// Config represents the application configuration
type Config struct {
	Hue             HueConfig      `yaml:"hue"`
	Server          ServerConfig   `yaml:"server"`
	Database        DatabaseConfig `yaml:"database"`
	Cache           CacheConfig    `yaml:"cache"`
	Log             LogConfig      `yaml:"log"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Script          ScriptConfig   `yaml:"script"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge       string   `yaml:"bridge"`
	Token        string   `yaml:"token"`
	Timeout      Duration `yaml:"timeout"`        // Per-request timeout for bridge calls
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Group writes per second

	SyncInterval    Duration `yaml:"sync_interval"`
	SyncImmediately *bool    `yaml:"sync_immediately"`  // Sync on startup (default: true)
	EventStream     bool     `yaml:"eventstream"`       // Nudge sync on bridge events
	EventQuiet      Duration `yaml:"eventstream_quiet"` // Quiet period before a burst of events nudges sync
}

// SyncOnStart reports whether the first sync runs at startup.
func (c HueConfig) SyncOnStart() bool {
	return c.SyncImmediately == nil || *c.SyncImmediately
}

// ServerConfig contains panel-facing HTTP/WebSocket settings
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	PingInterval   Duration `yaml:"ping_interval"`
	PongTimeout    Duration `yaml:"pong_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	SendBuffer     int      `yaml:"send_buffer"`      // Outbound messages queued per connection
	MaxMessageSize int64    `yaml:"max_message_size"` // Inbound frame limit in bytes
}

// Addr returns host:port
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig contains database settings. An empty path keeps caches in
// memory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig contains cache settings
type CacheConfig struct {
	SceneColourTTL Duration `yaml:"scene_colour_ttl"`
	PurgeInterval  Duration `yaml:"purge_interval"` // How often expired entries are dropped
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	Colors     bool   `yaml:"colors"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"` // Also write to a rotated file when set
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// MQTTConfig contains the optional state mirror settings
type MQTTConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	TopicPrefix    string   `yaml:"topic_prefix"`
	QoS            byte     `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// ScriptConfig contains Lua command script settings
type ScriptConfig struct {
	Path  string `yaml:"path"`  // Empty disables scripting
	Watch bool   `yaml:"watch"` // Reload on file change
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads, expands and parses the configuration file, then applies
// defaults. It does not validate; call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 7
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}

	// Hue defaults
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(10 * time.Second)
	}
	if cfg.Hue.RateLimitRPS == 0 {
		cfg.Hue.RateLimitRPS = 10.0
	}
	if cfg.Hue.SyncInterval == 0 {
		cfg.Hue.SyncInterval = Duration(5 * time.Second)
	}
	if cfg.Hue.EventQuiet == 0 {
		cfg.Hue.EventQuiet = Duration(300 * time.Millisecond)
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.PingInterval == 0 {
		cfg.Server.PingInterval = Duration(30 * time.Second)
	}
	if cfg.Server.PongTimeout == 0 {
		cfg.Server.PongTimeout = Duration(60 * time.Second)
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.SendBuffer == 0 {
		cfg.Server.SendBuffer = 32
	}
	if cfg.Server.MaxMessageSize == 0 {
		cfg.Server.MaxMessageSize = 64 * 1024
	}

	// Cache defaults
	if cfg.Cache.SceneColourTTL == 0 {
		cfg.Cache.SceneColourTTL = Duration(7 * 24 * time.Hour)
	}
	if cfg.Cache.PurgeInterval == 0 {
		cfg.Cache.PurgeInterval = Duration(time.Hour)
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "panelhub"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "panelhub"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}

	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 4
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 100
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate reports every configuration problem at once.
func (cfg *Config) Validate() error {
	var errs []error

	if cfg.Hue.Bridge == "" {
		errs = append(errs, errors.New("hue.bridge is required"))
	}
	if cfg.Hue.Token == "" {
		errs = append(errs, errors.New("hue.token is required"))
	}
	if d := cfg.Hue.SyncInterval.Duration(); d <= 0 || d > MaxSyncInterval {
		errs = append(errs, fmt.Errorf("hue.sync_interval %s must be in (0, %s]", d, MaxSyncInterval))
	}
	if cfg.Hue.RateLimitRPS < 0 {
		errs = append(errs, errors.New("hue.rate_limit_rps must not be negative"))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Server.PongTimeout <= cfg.Server.PingInterval {
		errs = append(errs, errors.New("server.pong_timeout must be longer than server.ping_interval"))
	}
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
		}
		if cfg.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", cfg.MQTT.QoS))
		}
	}

	return errors.Join(errs...)
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
