// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// RedisURL is the Redis connection URL (e.g. redis://localhost:6379/0).
	// Empty or "memory" selects the in-memory aggregation store (single-instance mode).
	RedisURL string `mapstructure:"REDIS_URL"`
	// SessionTTL is how long per-session aggregates live in the store after the last write (e.g. "2h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// DefaultDuration is the analysis duration used when a start request omits one (e.g. "60s"). Minimum 10s.
	DefaultDuration string `mapstructure:"DEFAULT_DURATION"`
	// MaxDuration is the longest analysis duration a caller may request (e.g. "5m").
	MaxDuration string `mapstructure:"MAX_DURATION"`
	// UpdateIntervalMS is the websocket stats push cadence in milliseconds. Floored at 250ms on use.
	UpdateIntervalMS int `mapstructure:"UPDATE_INTERVAL"`
	// MessageSampleRate keeps every Nth chat message (1 = all). Range 1–20.
	MessageSampleRate int `mapstructure:"MESSAGE_SAMPLE_RATE"`
	// QueueCapacity is the per-session ingestion queue size; overflow drops the newest event.
	QueueCapacity int `mapstructure:"QUEUE_CAPACITY"`
	// TimelineCap is the max number of timestamps kept in the per-session activity timeline.
	TimelineCap int `mapstructure:"TIMELINE_CAP"`

	// TwitchClientID is the Helix app client ID; optional. Without it emote metadata falls back to CDN URLs.
	TwitchClientID string `mapstructure:"TWITCH_CLIENT_ID"`
	// TwitchClientSecret is the Helix app client secret; optional.
	TwitchClientSecret string `mapstructure:"TWITCH_CLIENT_SECRET"`

	// Telemetry (optional). When Kafka brokers are set, the server emits lifecycle events to Kafka.
	// LifecycleKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	LifecycleKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// LifecycleKafkaTopic is the Kafka topic for session lifecycle events (default pulse-lifecycle).
	LifecycleKafkaTopic string `mapstructure:"LIFECYCLE_KAFKA_TOPIC"`
	// OTLPEndpoint is the OTLP gRPC endpoint for metrics (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Worker-only: Loki URL for the lifecycle worker to push events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the lifecycle worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	// An explicitly empty REDIS_URL (or broker list) is meaningful, not unset.
	v.AllowEmptyEnv(true)

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("DEFAULT_DURATION", "60s")
	v.SetDefault("MAX_DURATION", "5m")
	v.SetDefault("UPDATE_INTERVAL", 500)
	v.SetDefault("MESSAGE_SAMPLE_RATE", 1)
	v.SetDefault("QUEUE_CAPACITY", 5000)
	v.SetDefault("TIMELINE_CAP", 1200)
	v.SetDefault("LIFECYCLE_KAFKA_TOPIC", "pulse-lifecycle")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "pulse-lifecycle-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.QueueCapacity < 1 {
		return nil, errors.New("config: QUEUE_CAPACITY must be at least 1")
	}
	if cfg.TimelineCap < 1 {
		return nil, errors.New("config: TIMELINE_CAP must be at least 1")
	}
	if cfg.MessageSampleRate < 1 || cfg.MessageSampleRate > 20 {
		return nil, errors.New("config: MESSAGE_SAMPLE_RATE must be between 1 and 20")
	}
	if cfg.DefaultDurationValue() < 10*time.Second {
		return nil, errors.New("config: DEFAULT_DURATION must be at least 10s")
	}
	if cfg.MaxDurationValue() < cfg.DefaultDurationValue() {
		return nil, errors.New("config: MAX_DURATION must be at least DEFAULT_DURATION")
	}

	return &cfg, nil
}

// SessionTTLValue parses SessionTTL as a time.Duration. Returns 2h if unset or invalid.
func (c *Config) SessionTTLValue() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d <= 0 {
		return 2 * time.Hour
	}
	return d
}

// DefaultDurationValue parses DefaultDuration as a time.Duration. Returns 60s if unset or invalid.
func (c *Config) DefaultDurationValue() time.Duration {
	d, err := time.ParseDuration(c.DefaultDuration)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// MaxDurationValue parses MaxDuration as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) MaxDurationValue() time.Duration {
	d, err := time.ParseDuration(c.MaxDuration)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// UpdateInterval returns the websocket push cadence with a 250ms floor.
func (c *Config) UpdateInterval() time.Duration {
	d := time.Duration(c.UpdateIntervalMS) * time.Millisecond
	if d < 250*time.Millisecond {
		return 250 * time.Millisecond
	}
	return d
}

// LifecycleKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if lifecycle telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) LifecycleKafkaBrokersList() []string {
	if c == nil || c.LifecycleKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.LifecycleKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
