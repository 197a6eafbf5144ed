// Package config provides configuration management functionality.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds application configuration
type Config struct {
	Log      LogConfig      `env:", prefix=LOG_"`
	Database DatabaseConfig `env:", prefix=DB_"`
	Storage  StorageConfig
	Queue    QueueConfig
	Parser   ParserConfig `env:", prefix=PARSER_"`

	UpsertBatchSize int `env:"UPSERT_BATCH_SIZE, default=1000"`

	// InvocationSafetyMargin is reserved before an invocation deadline so that
	// in-flight messages stop early enough to report their status.
	InvocationSafetyMargin time.Duration `env:"INVOCATION_SAFETY_MARGIN, default=5s"`

	HTTPPort            int    `env:"HTTP_PORT, default=8080"`
	MaintenanceSchedule string `env:"MAINTENANCE_SCHEDULE, default=0 0 3 * * *"`
	DLQCheckSchedule    string `env:"DLQ_CHECK_SCHEDULE, default=@every 5m"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Pretty bool   `env:"PRETTY, default=false"`
	File   string `env:"FILE"`
}

// DatabaseConfig holds relational store configuration
type DatabaseConfig struct {
	Driver string `env:"DRIVER, default=sqlite"`
	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN string `env:"DSN, default=./data/fundsync.db"`
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Region          string        `env:"AWS_REGION, default=us-east-1"`
	Endpoint        string        `env:"S3_ENDPOINT"`
	ForcePathStyle  bool          `env:"S3_FORCE_PATH_STYLE, default=false"`
	AccessKeyID     string        `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"S3_SECRET_ACCESS_KEY"`
	DownloadTimeout time.Duration `env:"DOWNLOAD_TIMEOUT, default=30s"`
	MaxObjectBytes  int64         `env:"MAX_OBJECT_BYTES, default=268435456"`
}

// QueueConfig holds queue consumer configuration
type QueueConfig struct {
	QueueURL          string        `env:"QUEUE_URL"`
	DLQURL            string        `env:"DLQ_URL"`
	Endpoint          string        `env:"SQS_ENDPOINT"`
	MaxReceiveCount   int           `env:"MAX_RECEIVE_COUNT, default=5"`
	Concurrency       int           `env:"CONSUMER_CONCURRENCY, default=4"`
	PollWait          time.Duration `env:"POLL_WAIT, default=20s"`
	PollMaxMessages   int           `env:"POLL_MAX_MESSAGES, default=10"`
	VisibilityTimeout time.Duration `env:"VISIBILITY_TIMEOUT, default=5m"`
	Workers           int           `env:"WORKERS, default=1"`
}

// ParserConfig holds CSV parser configuration
type ParserConfig struct {
	// Encodings is the ordered list of candidate encodings tried on each object.
	Encodings []string `env:"ENCODINGS, default=utf-8,shift_jis"`
}

// Load reads configuration from the environment, after loading an optional .env file.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads configuration from the given lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	for i, enc := range cfg.Parser.Encodings {
		cfg.Parser.Encodings[i] = strings.ToLower(strings.TrimSpace(enc))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want sqlite or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.UpsertBatchSize <= 0 || c.UpsertBatchSize > 4000 {
		return fmt.Errorf("UPSERT_BATCH_SIZE must be between 1 and 4000, got %d", c.UpsertBatchSize)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("CONSUMER_CONCURRENCY must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxReceiveCount <= 0 {
		return fmt.Errorf("MAX_RECEIVE_COUNT must be positive, got %d", c.Queue.MaxReceiveCount)
	}
	if c.Queue.PollMaxMessages < 1 || c.Queue.PollMaxMessages > 10 {
		return fmt.Errorf("POLL_MAX_MESSAGES must be between 1 and 10, got %d", c.Queue.PollMaxMessages)
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Queue.Workers)
	}
	if c.Storage.DownloadTimeout <= 0 {
		return fmt.Errorf("DOWNLOAD_TIMEOUT must be positive")
	}
	if c.Storage.MaxObjectBytes <= 0 {
		return fmt.Errorf("MAX_OBJECT_BYTES must be positive")
	}
	if len(c.Parser.Encodings) == 0 {
		return fmt.Errorf("PARSER_ENCODINGS must list at least one encoding")
	}
	return nil
}
