// Package config loads and validates configuration for the capture and
// reconciliation services from YAML files with WZ_* environment overrides.
// The feed registry is part of the same document.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Postgres PostgresConfig    `yaml:"postgres"`
	Kafka    KafkaConfig       `yaml:"kafka"`
	Redis    RedisConfig       `yaml:"redis"`
	Storage  StorageConfig     `yaml:"storage"`
	Trigger  TriggerConfig     `yaml:"trigger"`
	Ingest   IngestConfig      `yaml:"ingest"`
	Archive  ArchiveConfig     `yaml:"archive"`
	Feeds    []feed.Descriptor `yaml:"feeds"`
	Logging  LoggingConfig     `yaml:"logging"`
	Tracing  TracingConfig     `yaml:"tracing"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// CycleRateLimit caps manual cycle requests per feed per minute; 0
	// disables the limit.
	CycleRateLimit int `yaml:"cycleRateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters for the cycle ledger.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps the downstream stages to their trigger topics.
type KafkaTopics struct {
	SandboxTrigger string `yaml:"sandboxTrigger"`
	SocrataTrigger string `yaml:"socrataTrigger"`
}

// RedisConfig holds Redis connection parameters. Redis backs the per-feed
// cycle lock and the log tail index; both fall back to in-process
// implementations when disabled.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	LockTTL  time.Duration `yaml:"lockTTL"`
	TailTTL  time.Duration `yaml:"tailTTL"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendS3     = "s3"
)

// StorageConfig selects the object store and names the two buckets the
// pipeline writes to.
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	Root          string `yaml:"root"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	UsePathStyle  bool   `yaml:"usePathStyle"`
	RawBucket     string `yaml:"rawBucket"`
	SandboxBucket string `yaml:"sandboxBucket"`
}

// Trigger modes.
const (
	TriggerKafka  = "kafka"
	TriggerLambda = "lambda"
	TriggerNone   = "none"
)

// TriggerConfig chooses how downstream stages are notified. Targets are
// Lambda function names in lambda mode; in kafka mode the topics from
// KafkaConfig are used.
type TriggerConfig struct {
	Mode          string `yaml:"mode"`
	SandboxTarget string `yaml:"sandboxTarget"`
	SocrataTarget string `yaml:"socrataTarget"`
}

// IngestConfig bounds a single reconciliation cycle.
type IngestConfig struct {
	Parallelism  int           `yaml:"parallelism"`
	CycleTimeout time.Duration `yaml:"cycleTimeout"`
}

// ArchiveConfig controls the raw capture loop.
type ArchiveConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FetchTimeout     time.Duration `yaml:"fetchTimeout"`
	RetryAttempts    int           `yaml:"retryAttempts"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It does not validate; callers decide which sections they need.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "wzdx",
			User:            "wzdx",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "wzdx-reconciler",
			Topics: KafkaTopics{
				SandboxTrigger: "wzdx.sandbox.trigger",
				SocrataTrigger: "wzdx.socrata.trigger",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			LockTTL:  10 * time.Minute,
			TailTTL:  40 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			Root:    "./data",
			Region:  "us-east-1",
		},
		Trigger: TriggerConfig{
			Mode: TriggerKafka,
		},
		Ingest: IngestConfig{
			Parallelism:  1,
			CycleTimeout: 5 * time.Minute,
		},
		Archive: ArchiveConfig{
			Interval:         5 * time.Minute,
			FetchTimeout:     30 * time.Second,
			RetryAttempts:    3,
			BreakerThreshold: 5,
			BreakerReset:     2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRate: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads WZ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WZ_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WZ_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = parseBool(v, cfg.Postgres.Enabled)
	}
	if v := os.Getenv("WZ_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("WZ_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("WZ_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("WZ_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("WZ_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("WZ_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("WZ_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v, cfg.Redis.Enabled)
	}
	if v := os.Getenv("WZ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("WZ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("WZ_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("WZ_STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("WZ_STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("WZ_RAW_BUCKET"); v != "" {
		cfg.Storage.RawBucket = v
	}
	if v := os.Getenv("WZ_SANDBOX_BUCKET"); v != "" {
		cfg.Storage.SandboxBucket = v
	}
	if v := os.Getenv("WZ_TRIGGER_MODE"); v != "" {
		cfg.Trigger.Mode = v
	}
	if v := os.Getenv("WZ_SANDBOX_TARGET"); v != "" {
		cfg.Trigger.SandboxTarget = v
	}
	if v := os.Getenv("WZ_SOCRATA_TARGET"); v != "" {
		cfg.Trigger.SocrataTarget = v
	}
	if v := os.Getenv("WZ_INGEST_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Parallelism = n
		}
	}
	if v := os.Getenv("WZ_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WZ_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Validate checks the settings every stage needs before it touches a store
// or a trigger. A failure here is a fatal startup error.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.Root == "" {
			errs = append(errs, errors.New("storage.root is required for the file backend"))
		}
	case BackendS3:
		if c.Storage.Region == "" {
			errs = append(errs, errors.New("storage.region is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, file, s3", c.Storage.Backend))
	}
	if c.Storage.RawBucket == "" {
		errs = append(errs, errors.New("storage.rawBucket is required"))
	}
	if c.Storage.SandboxBucket == "" {
		errs = append(errs, errors.New("storage.sandboxBucket is required"))
	}

	switch c.Trigger.Mode {
	case TriggerNone:
	case TriggerKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required in kafka trigger mode"))
		}
		if c.Kafka.Topics.SandboxTrigger == "" || c.Kafka.Topics.SocrataTrigger == "" {
			errs = append(errs, errors.New("kafka.topics.sandboxTrigger and socrataTrigger are required in kafka trigger mode"))
		}
	case TriggerLambda:
		if c.Trigger.SandboxTarget == "" || c.Trigger.SocrataTarget == "" {
			errs = append(errs, errors.New("trigger.sandboxTarget and socrataTarget are required in lambda trigger mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("trigger.mode %q is not one of kafka, lambda, none", c.Trigger.Mode))
	}

	if c.Ingest.Parallelism < 1 {
		errs = append(errs, errors.New("ingest.parallelism must be at least 1"))
	}

	seen := make(map[string]bool, len(c.Feeds))
	for i, d := range c.Feeds {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("feeds[%d]: %w", i, err))
			continue
		}
		if seen[d.ID()] {
			errs = append(errs, fmt.Errorf("feeds[%d]: duplicate feed %s", i, d.ID()))
		}
		seen[d.ID()] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: invalid configuration: %w", apperrors.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Feed looks up a registered feed by state and name.
func (c *Config) Feed(state, feedName string) (feed.Descriptor, bool) {
	for _, d := range c.Feeds {
		if d.State == state && d.FeedName == feedName {
			return d, true
		}
	}
	return feed.Descriptor{}, false
}

// FeedByName looks up a registered feed by name alone. Trigger events only
// carry the feed name, which is unique across the registry in practice.
func (c *Config) FeedByName(feedName string) (feed.Descriptor, bool) {
	for _, d := range c.Feeds {
		if d.FeedName == feedName {
			return d, true
		}
	}
	return feed.Descriptor{}, false
}
