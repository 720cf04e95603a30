// Copyright 2025 James Ross
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/ssh-randy/payments-core/internal/breaker"
	"github.com/ssh-randy/payments-core/internal/config"
	"github.com/ssh-randy/payments-core/internal/coordinator"
	"github.com/ssh-randy/payments-core/internal/eventstore"
	"github.com/ssh-randy/payments-core/internal/idempotency"
	"github.com/ssh-randy/payments-core/internal/lock"
	"github.com/ssh-randy/payments-core/internal/obs"
	"github.com/ssh-randy/payments-core/internal/orchestrator"
	"github.com/ssh-randy/payments-core/internal/outbox"
	"github.com/ssh-randy/payments-core/internal/processor"
	"github.com/ssh-randy/payments-core/internal/processor/mockprocessor"
	"github.com/ssh-randy/payments-core/internal/processor/stripeprocessor"
	"github.com/ssh-randy/payments-core/internal/queueconsumer"
	"github.com/ssh-randy/payments-core/internal/readmodel"
	"github.com/ssh-randy/payments-core/internal/restaurantconfig"
	"github.com/ssh-randy/payments-core/internal/tokenization"
	"github.com/ssh-randy/payments-core/internal/transport"
	"github.com/ssh-randy/payments-core/internal/transport/natsqueue"
	"github.com/ssh-randy/payments-core/internal/transport/sqsqueue"
)

var version = "dev"

func main() {
	var configPath string
	var workerID string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&workerID, "worker-id", "", "Worker identity for lock ownership (defaults to hostname-pid)")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("failed to open postgres", obs.Err(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	queue, err := buildQueue(cfg)
	if err != nil {
		logger.Fatal("failed to build queue transport", obs.Err(err))
	}

	proc, err := buildProcessor(cfg)
	if err != nil {
		logger.Fatal("failed to build processor backend", obs.Err(err))
	}

	coord := coordinator.New(db, eventstore.New(), readmodel.New(), outbox.New(), idempotency.New())
	locks := lock.New(db, logger)
	sweeper := lock.NewSweeper(locks, cfg.Worker.ProcessingTTL, logger)
	tokenizer := tokenization.New(cfg.Worker.TokenizationURL, cfg.Worker.TokenizationAuth, cfg.Worker.TokenizationTimeout)
	configs := restaurantconfig.New(db, cfg.Worker.ConfigCacheTTL)
	cb := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)

	orch := orchestrator.New(locks, coord, tokenizer, proc, configs, cb, cfg.Worker.LockTTL, cfg.Worker.MaxRetries, workerID, logger)
	consumer := queueconsumer.New(queue, orch, cfg.Worker.Count, maxMessages(cfg), logger)

	readyCheck := func(ctx context.Context) error { return db.PingContext(ctx) }
	obsSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = obsSrv.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sweeper.Run(ctx) }()
	go func() { defer wg.Done(); consumer.Run(ctx) }()

	logger.Info("authorization-worker started", obs.String("worker_id", workerID), obs.Int("worker_count", cfg.Worker.Count))
	wg.Wait()
	logger.Info("authorization-worker stopped")
}

func buildQueue(cfg *config.Config) (transport.Queue, error) {
	switch cfg.Queue.Backend {
	case "nats":
		return natsqueue.New(cfg.Queue.NATS.URL, cfg.Queue.NATS.Stream, cfg.Queue.NATS.Subject, cfg.Queue.NATS.Durable, cfg.Worker.ProcessingTTL)
	case "sqs", "":
		return sqsqueue.New(cfg.Queue.SQS.Region, cfg.Queue.SQS.QueueURL, cfg.Queue.SQS.VisibilityTimeout, cfg.Queue.SQS.WaitTime)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

func buildProcessor(cfg *config.Config) (processor.Processor, error) {
	switch cfg.Processor.Backend {
	case "stripe":
		return stripeprocessor.New(cfg.Processor.StripeAPIKey, cfg.Worker.ProcessorTimeout), nil
	case "mock", "":
		return mockprocessor.New(), nil
	default:
		return nil, fmt.Errorf("unknown processor backend %q", cfg.Processor.Backend)
	}
}

func maxMessages(cfg *config.Config) int {
	if cfg.Queue.Backend == "nats" {
		return cfg.Queue.NATS.MaxMessages
	}
	return cfg.Queue.SQS.MaxMessages
}
