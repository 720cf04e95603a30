// Copyright 2025 James Ross
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ssh-randy/payments-core/internal/config"
	"github.com/ssh-randy/payments-core/internal/coordinator"
	"github.com/ssh-randy/payments-core/internal/eventstore"
	"github.com/ssh-randy/payments-core/internal/idempotency"
	"github.com/ssh-randy/payments-core/internal/intake"
	"github.com/ssh-randy/payments-core/internal/obs"
	"github.com/ssh-randy/payments-core/internal/outbox"
	"github.com/ssh-randy/payments-core/internal/readmodel"
	"github.com/ssh-randy/payments-core/internal/redisclient"
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

	var cache *idempotency.RedisCache
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redisclient.New(cfg)
		defer rdb.Close()
		cache = idempotency.NewRedisCache(rdb, "idempotency", cfg.Idempotency.RedisCacheTTL)
	}

	validator, err := intake.NewValidator(cfg.Intake.SchemaPath)
	if err != nil {
		logger.Fatal("failed to load request schema", obs.Err(err))
	}

	idemStore := idempotency.New()
	coord := coordinator.New(db, eventstore.New(), readmodel.New(), outbox.New(), idemStore)
	handler := intake.New(db, coord, idemStore, cache, validator, cfg.Intake.IdempotencyTTL, cfg.Intake.FastPathPollWindow, cfg.Intake.FastPathPollStep, logger)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	readyCheck := func(ctx context.Context) error { return db.PingContext(ctx) }
	obsSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = obsSrv.Shutdown(context.Background()) }()

	srv := &http.Server{Addr: cfg.Intake.Addr, Handler: router}

	harvester, err := idempotency.NewHarvester(idemStore, db, cfg.Idempotency.HarvestSchedule, logger)
	if err != nil {
		logger.Fatal("failed to start idempotency harvester", obs.Err(err))
	}
	harvester.Start()
	defer harvester.Stop()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("authorization-api listening", obs.String("addr", cfg.Intake.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("intake server error", obs.Err(err))
	}
}
