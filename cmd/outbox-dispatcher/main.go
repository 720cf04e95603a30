// Copyright 2025 James Ross
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/ssh-randy/payments-core/internal/config"
	"github.com/ssh-randy/payments-core/internal/dispatcher"
	"github.com/ssh-randy/payments-core/internal/obs"
	"github.com/ssh-randy/payments-core/internal/outbox"
	"github.com/ssh-randy/payments-core/internal/transport"
	"github.com/ssh-randy/payments-core/internal/transport/natsqueue"
	"github.com/ssh-randy/payments-core/internal/transport/sqsqueue"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
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

	disp := dispatcher.New(db, outbox.New(), queue, cfg.Dispatcher.BatchSize, cfg.Dispatcher.PollInterval, cfg.Dispatcher.PruneAfter, cfg.Dispatcher.PruneEvery, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readyCheck := func(ctx context.Context) error { return db.PingContext(ctx) }
	obsSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = obsSrv.Shutdown(context.Background()) }()

	obs.StartOutboxPendingUpdater(ctx, db, cfg.Dispatcher.PollInterval, logger)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("outbox-dispatcher started", obs.Int("batch_size", cfg.Dispatcher.BatchSize))
	if err := disp.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("dispatcher stopped with error", obs.Err(err))
	}
	logger.Info("outbox-dispatcher stopped")
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
