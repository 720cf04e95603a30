// Copyright 2025 James Ross
package obs

import (
    "fmt"
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/ssh-randy/payments-core/internal/config"
)

var (
    AuthRequestsCreated = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "auth_requests_created_total",
        Help: "Total number of authorization requests accepted at intake",
    })
    AuthRequestsQueued = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "auth_requests_queued_total",
        Help: "Total number of authorization requests enqueued by the outbox dispatcher",
    })
    AuthAttemptsStarted = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "auth_attempts_started_total",
        Help: "Total number of processor authorization attempts started",
    })
    AuthAttemptsAuthorized = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "auth_attempts_authorized_total",
        Help: "Total number of authorization attempts that resulted in AUTHORIZED",
    })
    AuthAttemptsDenied = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "auth_attempts_denied_total",
        Help: "Total number of authorization attempts that resulted in DENIED",
    })
    AuthAttemptsFailed = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "auth_attempts_failed_total",
        Help: "Total number of authorization attempts that failed (retryable or terminal)",
    })
    AuthAttemptsRetried = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "auth_attempts_retried_total",
        Help: "Total number of authorization attempts redelivered for retry",
    })
    AuthRequestsExpired = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "auth_requests_expired_total",
        Help: "Total number of authorization requests moved to EXPIRED",
    })
    AuthProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
        Name:    "auth_processing_duration_seconds",
        Help:    "Histogram of end-to-end orchestrator processing durations",
        Buckets: prometheus.DefBuckets,
    })
    OutboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "outbox_pending_entries",
        Help: "Current number of unprocessed outbox entries",
    })
    CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Name: "circuit_breaker_state",
        Help: "0 Closed, 1 HalfOpen, 2 Open",
    }, []string{"processor"})
    CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "circuit_breaker_trips_total",
        Help: "Count of times a processor's circuit breaker transitioned to Open",
    }, []string{"processor"})
    LockSweepRecovered = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "lock_sweep_recovered_total",
        Help: "Total number of expired processing locks removed by the sweeper",
    })
    WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Name: "worker_active",
        Help: "Number of active worker goroutines",
    })
    IdempotencyHits = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "idempotency_hits_total",
        Help: "Total number of intake requests short-circuited by an existing idempotency key",
    })
)

func init() {
    prometheus.MustRegister(
        AuthRequestsCreated, AuthRequestsQueued, AuthAttemptsStarted, AuthAttemptsAuthorized,
        AuthAttemptsDenied, AuthAttemptsFailed, AuthAttemptsRetried, AuthRequestsExpired,
        AuthProcessingDuration, OutboxPending, CircuitBreakerState, CircuitBreakerTrips,
        LockSweepRecovered, WorkerActive, IdempotencyHits,
    )
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
// StartMetricsServer is retained for compatibility but consider using StartHTTPServer
// which also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.Handler())
    srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
    go func() { _ = srv.ListenAndServe() }()
    return srv
}
