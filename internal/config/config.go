// Copyright 2025 James Ross
//
// Package config loads the process configuration via spf13/viper, grounded
// on the teacher's config.Load (YAML file + env override, "." replaced with
// "_" in env var names). The Config struct itself is new: it carries the
// Postgres, queue-transport, worker, intake, processor, and observability
// sections spec.md §6's configuration key bag calls for, instead of the
// teacher's Redis-list-queue shape.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Postgres struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Queue configures the FIFO transport. Backend selects "sqs" or "nats";
// only the matching sub-section need be populated.
type Queue struct {
	Backend string    `mapstructure:"backend"`
	SQS     SQSQueue  `mapstructure:"sqs"`
	NATS    NATSQueue `mapstructure:"nats"`
}

type SQSQueue struct {
	QueueURL          string        `mapstructure:"queue_url"`
	Region            string        `mapstructure:"region"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	MaxMessages       int           `mapstructure:"max_messages"`
}

type NATSQueue struct {
	URL         string `mapstructure:"url"`
	Stream      string `mapstructure:"stream"`
	Subject     string `mapstructure:"subject"`
	Durable     string `mapstructure:"durable"`
	MaxMessages int    `mapstructure:"max_messages"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

// Worker configures the Worker Orchestrator (component I) and its Queue
// Consumer (component H), spec.md §4.7/§4.8.
type Worker struct {
	Count               int           `mapstructure:"count"`
	MaxRetries          int           `mapstructure:"max_retries"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	ProcessingTTL       time.Duration `mapstructure:"processing_ttl"`
	BreakerPause        time.Duration `mapstructure:"breaker_pause"`
	TokenizationURL     string        `mapstructure:"tokenization_url"`
	TokenizationTimeout time.Duration `mapstructure:"tokenization_timeout"`
	TokenizationAuth    string        `mapstructure:"tokenization_auth"`
	ProcessorTimeout    time.Duration `mapstructure:"processor_timeout"`
	ConfigCacheTTL      time.Duration `mapstructure:"config_cache_ttl"`
}

// Intake configures the Intake Handler (component F), spec.md §4.6.
type Intake struct {
	Addr               string        `mapstructure:"addr"`
	FastPathPollWindow time.Duration `mapstructure:"fast_path_poll_window"`
	FastPathPollStep   time.Duration `mapstructure:"fast_path_poll_step"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
	SchemaPath         string        `mapstructure:"schema_path"`
}

// Processor selects and configures the payment processor backend the
// Worker Orchestrator authorizes against.
type Processor struct {
	Backend      string        `mapstructure:"backend"`
	StripeAPIKey string        `mapstructure:"stripe_api_key"`
	MockLatency  time.Duration `mapstructure:"mock_latency"`
	MockDefault  string        `mapstructure:"mock_default"`
}

// Dispatcher configures the Outbox Dispatcher (component G), spec.md §4.10.
type Dispatcher struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	PruneAfter   time.Duration `mapstructure:"prune_after"`
	PruneEvery   time.Duration `mapstructure:"prune_every"`
}

// Idempotency configures the IdempotencyKey table's cron-driven harvester
// and optional Redis read-through cache.
type Idempotency struct {
	HarvestSchedule string        `mapstructure:"harvest_schedule"`
	RedisCacheTTL   time.Duration `mapstructure:"redis_cache_ttl"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
}

type Observability struct {
	MetricsPort  int           `mapstructure:"metrics_port"`
	LogLevel     string        `mapstructure:"log_level"`
	Tracing      TracingConfig `mapstructure:"tracing"`
	AuditLogPath string        `mapstructure:"audit_log_path"`
}

type Config struct {
	Postgres       Postgres       `mapstructure:"postgres"`
	Redis          Redis          `mapstructure:"redis"`
	Queue          Queue          `mapstructure:"queue"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Worker         Worker         `mapstructure:"worker"`
	Processor      Processor      `mapstructure:"processor"`
	Intake         Intake         `mapstructure:"intake"`
	Dispatcher     Dispatcher     `mapstructure:"dispatcher"`
	Idempotency    Idempotency    `mapstructure:"idempotency"`
	Observability  Observability  `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Postgres: Postgres{
			DSN:             "postgres://localhost:5432/payments?sslmode=disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: Redis{Addr: "localhost:6379"},
		Queue: Queue{
			Backend: "sqs",
			SQS: SQSQueue{
				Region:            "us-east-1",
				VisibilityTimeout: 30 * time.Second,
				WaitTime:          20 * time.Second,
				MaxMessages:       10,
			},
			NATS: NATSQueue{
				Stream:      "AUTH_REQUESTS",
				Subject:     "auth.requests",
				Durable:     "auth-worker",
				MaxMessages: 10,
			},
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Worker: Worker{
			Count:               8,
			MaxRetries:          5,
			LockTTL:             30 * time.Second,
			ProcessingTTL:       60 * time.Second,
			BreakerPause:        100 * time.Millisecond,
			TokenizationTimeout: 5 * time.Second,
			ProcessorTimeout:    10 * time.Second,
			ConfigCacheTTL:      5 * time.Minute,
		},
		Processor: Processor{
			Backend:     "mock",
			MockLatency: 50 * time.Millisecond,
			MockDefault: "AUTHORIZED",
		},
		Intake: Intake{
			Addr:               ":8080",
			FastPathPollWindow: 5 * time.Second,
			FastPathPollStep:   200 * time.Millisecond,
			IdempotencyTTL:     24 * time.Hour,
			SchemaPath:         "schema.json",
		},
		Dispatcher: Dispatcher{
			PollInterval: 500 * time.Millisecond,
			BatchSize:    50,
			PruneAfter:   7 * 24 * time.Hour,
			PruneEvery:   1 * time.Hour,
		},
		Idempotency: Idempotency{
			HarvestSchedule: "0 * * * *",
			RedisCacheTTL:   24 * time.Hour,
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{Enabled: false},
		},
	}
}

// Load reads YAML config from path, applying defaults and "KEY_PATH"-style
// environment overrides (dots replaced with underscores, same as the
// teacher's config.Load).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("postgres.dsn", def.Postgres.DSN)
	v.SetDefault("postgres.max_open_conns", def.Postgres.MaxOpenConns)
	v.SetDefault("postgres.max_idle_conns", def.Postgres.MaxIdleConns)
	v.SetDefault("postgres.conn_max_lifetime", def.Postgres.ConnMaxLifetime)

	v.SetDefault("redis.addr", def.Redis.Addr)

	v.SetDefault("queue.backend", def.Queue.Backend)
	v.SetDefault("queue.sqs.region", def.Queue.SQS.Region)
	v.SetDefault("queue.sqs.visibility_timeout", def.Queue.SQS.VisibilityTimeout)
	v.SetDefault("queue.sqs.wait_time", def.Queue.SQS.WaitTime)
	v.SetDefault("queue.sqs.max_messages", def.Queue.SQS.MaxMessages)
	v.SetDefault("queue.nats.stream", def.Queue.NATS.Stream)
	v.SetDefault("queue.nats.subject", def.Queue.NATS.Subject)
	v.SetDefault("queue.nats.durable", def.Queue.NATS.Durable)
	v.SetDefault("queue.nats.max_messages", def.Queue.NATS.MaxMessages)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("worker.count", def.Worker.Count)
	v.SetDefault("worker.max_retries", def.Worker.MaxRetries)
	v.SetDefault("worker.lock_ttl", def.Worker.LockTTL)
	v.SetDefault("worker.processing_ttl", def.Worker.ProcessingTTL)
	v.SetDefault("worker.breaker_pause", def.Worker.BreakerPause)
	v.SetDefault("worker.tokenization_timeout", def.Worker.TokenizationTimeout)
	v.SetDefault("worker.processor_timeout", def.Worker.ProcessorTimeout)
	v.SetDefault("worker.config_cache_ttl", def.Worker.ConfigCacheTTL)

	v.SetDefault("processor.backend", def.Processor.Backend)
	v.SetDefault("processor.stripe_api_key", def.Processor.StripeAPIKey)
	v.SetDefault("processor.mock_latency", def.Processor.MockLatency)
	v.SetDefault("processor.mock_default", def.Processor.MockDefault)

	v.SetDefault("intake.addr", def.Intake.Addr)
	v.SetDefault("intake.fast_path_poll_window", def.Intake.FastPathPollWindow)
	v.SetDefault("intake.fast_path_poll_step", def.Intake.FastPathPollStep)
	v.SetDefault("intake.idempotency_ttl", def.Intake.IdempotencyTTL)
	v.SetDefault("intake.schema_path", def.Intake.SchemaPath)

	v.SetDefault("dispatcher.poll_interval", def.Dispatcher.PollInterval)
	v.SetDefault("dispatcher.batch_size", def.Dispatcher.BatchSize)
	v.SetDefault("dispatcher.prune_after", def.Dispatcher.PruneAfter)
	v.SetDefault("dispatcher.prune_every", def.Dispatcher.PruneEvery)

	v.SetDefault("idempotency.harvest_schedule", def.Idempotency.HarvestSchedule)
	v.SetDefault("idempotency.redis_cache_ttl", def.Idempotency.RedisCacheTTL)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.audit_log_path", def.Observability.AuditLogPath)
}
