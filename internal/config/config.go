// Package config loads and validates app config from env, an optional .env file and
// command-line flags using Viper.
package config

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"telemetree/sdk/internal/telemetry/domain"
)

// Config holds configuration for the tracker, ingest and worker binaries.
type Config struct {
	// ProjectID identifies the Telemetree project events belong to.
	ProjectID string `mapstructure:"TELEMETREE_PROJECT_ID"`
	// APIKey authenticates the config fetch (bearer) and each delivery (x-api-key).
	APIKey string `mapstructure:"TELEMETREE_API_KEY"`
	// ConfigGatewayURL is the remote config endpoint; the project id is added as ?project=.
	ConfigGatewayURL string `mapstructure:"CONFIG_GATEWAY_URL"`
	// ConfigFetchTimeout bounds the config fetch (e.g. "1s").
	ConfigFetchTimeout string `mapstructure:"CONFIG_FETCH_TIMEOUT"`
	// DeliveryTimeout bounds each event delivery (e.g. "1500ms").
	DeliveryTimeout string `mapstructure:"DELIVERY_TIMEOUT"`
	// TrackGroup is the capture tier: low, medium, high or empty.
	TrackGroup string `mapstructure:"TRACK_GROUP"`
	// DeliveryTransport is "http" (default) or "kafka".
	DeliveryTransport string `mapstructure:"DELIVERY_TRANSPORT"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the topic decrypted canonical events are published to.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// DeliveryKafkaTopic is the topic trackers publish encrypted envelopes to when
	// DELIVERY_TRANSPORT=kafka. The ingest server consumes and opens them.
	DeliveryKafkaTopic string `mapstructure:"DELIVERY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// IngestGroupID is the consumer group ID for the ingest envelope consumer.
	IngestGroupID string `mapstructure:"INGEST_KAFKA_GROUP_ID"`
	// LokiURL is where the worker pushes events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// RedisAddr enables the Redis identity store when set; otherwise state is in memory.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Ingest server settings.
	IngestAddr string `mapstructure:"INGEST_ADDR"`
	// IngestPrivateKey is the PEM private key (or path) used to open envelopes.
	IngestPrivateKey string `mapstructure:"INGEST_PRIVATE_KEY"`
	// IngestPublicKey is the PEM public key (or path) served as public_key.
	IngestPublicKey string `mapstructure:"INGEST_PUBLIC_KEY"`
	// IngestHost is the delivery URL served as host.
	IngestHost string `mapstructure:"INGEST_HOST"`
	// IngestRateLimit is requests per second allowed per client IP; 0 disables limiting.
	IngestRateLimit float64 `mapstructure:"INGEST_RATE_LIMIT"`
	IngestRateBurst int     `mapstructure:"INGEST_RATE_BURST"`
	// IngestTrustProxy keys rate limits on X-Forwarded-For; set only behind a proxy that
	// overwrites it.
	IngestTrustProxy bool `mapstructure:"INGEST_TRUST_PROXY"`

	AutoCapture        bool   `mapstructure:"AUTO_CAPTURE"`
	AutoCaptureTags    string `mapstructure:"AUTO_CAPTURE_TAGS"`
	AutoCaptureClasses string `mapstructure:"AUTO_CAPTURE_CLASSES"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"project-id":       "TELEMETREE_PROJECT_ID",
	"api-key":          "TELEMETREE_API_KEY",
	"gateway":          "CONFIG_GATEWAY_URL",
	"track-group":      "TRACK_GROUP",
	"transport":        "DELIVERY_TRANSPORT",
	"delivery-timeout": "DELIVERY_TIMEOUT",
	"kafka-brokers":    "KAFKA_BROKERS",
	"delivery-topic":   "DELIVERY_KAFKA_TOPIC",
	"redis-addr":       "REDIS_ADDR",
	"loki-url":         "LOKI_URL",
	"otlp-endpoint":    "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log-level":        "LOG_LEVEL",
	"addr":             "INGEST_ADDR",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags is Load with explicitly set flags from fs taking precedence over env.
// Flags are matched by name (e.g. --project-id binds TELEMETREE_PROJECT_ID).
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("TELEMETREE_PROJECT_ID", "")
	v.SetDefault("TELEMETREE_API_KEY", "")
	v.SetDefault("CONFIG_GATEWAY_URL", "https://config.ton.solutions/v1/client/config")
	v.SetDefault("CONFIG_FETCH_TIMEOUT", "1s")
	v.SetDefault("DELIVERY_TIMEOUT", "1500ms")
	v.SetDefault("TRACK_GROUP", "")
	v.SetDefault("DELIVERY_TRANSPORT", "http")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "telemetree-events")
	v.SetDefault("DELIVERY_KAFKA_TOPIC", "telemetree-envelopes")
	v.SetDefault("KAFKA_GROUP_ID", "telemetree-worker")
	v.SetDefault("INGEST_KAFKA_GROUP_ID", "telemetree-ingest")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("INGEST_ADDR", ":8080")
	v.SetDefault("INGEST_PRIVATE_KEY", "")
	v.SetDefault("INGEST_PUBLIC_KEY", "")
	v.SetDefault("INGEST_HOST", "")
	v.SetDefault("INGEST_RATE_LIMIT", 50)
	v.SetDefault("INGEST_RATE_BURST", 100)
	v.SetDefault("INGEST_TRUST_PROXY", false)
	v.SetDefault("AUTO_CAPTURE", false)
	v.SetDefault("AUTO_CAPTURE_TAGS", "button,a")
	v.SetDefault("AUTO_CAPTURE_CLASSES", "")

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if _, ok := domain.ParseTrackGroup(cfg.TrackGroup); !ok {
		return nil, errors.New("config: TRACK_GROUP must be one of low, medium, high")
	}
	switch strings.ToLower(cfg.DeliveryTransport) {
	case "", "http":
	case "kafka":
		if len(cfg.KafkaBrokersList()) == 0 {
			return nil, errors.New("config: KAFKA_BROKERS must be set when DELIVERY_TRANSPORT=kafka")
		}
	default:
		return nil, errors.New("config: DELIVERY_TRANSPORT must be http or kafka")
	}
	if cfg.DeliveryKafkaTopic != "" && cfg.DeliveryKafkaTopic == cfg.TelemetryKafkaTopic {
		return nil, errors.New("config: DELIVERY_KAFKA_TOPIC must differ from TELEMETRY_KAFKA_TOPIC")
	}
	if cfg.IngestRateLimit < 0 || cfg.IngestRateBurst < 0 {
		return nil, errors.New("config: INGEST_RATE_LIMIT and INGEST_RATE_BURST must not be negative")
	}
	if cfg.RedisDB < 0 {
		return nil, errors.New("config: REDIS_DB must not be negative")
	}

	return &cfg, nil
}

// ConfigTimeout parses ConfigFetchTimeout. Returns 1s if unset or invalid.
func (c *Config) ConfigTimeout() time.Duration {
	d, err := time.ParseDuration(c.ConfigFetchTimeout)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// DeliveryTimeoutDuration parses DeliveryTimeout. Returns 1.5s if unset or invalid.
func (c *Config) DeliveryTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.DeliveryTimeout)
	if err != nil || d <= 0 {
		return 1500 * time.Millisecond
	}
	return d
}

// Group returns the parsed TrackGroup; Load has already rejected unknown values.
func (c *Config) Group() domain.TrackGroup {
	g, _ := domain.ParseTrackGroup(c.TrackGroup)
	return g
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// AutoCaptureTagsList returns the auto-capture element tags.
func (c *Config) AutoCaptureTagsList() []string {
	return splitList(c.AutoCaptureTags)
}

// AutoCaptureClassesList returns the auto-capture element classes.
func (c *Config) AutoCaptureClassesList() []string {
	return splitList(c.AutoCaptureClasses)
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
