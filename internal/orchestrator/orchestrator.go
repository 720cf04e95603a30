// Copyright 2025 James Ross
//
// Package orchestrator implements component I, the Worker Orchestrator: the
// eight-step per-message workflow (lock, void-check, start-event, decrypt,
// process, finalize) spec.md §4.7 specifies. Grounded on the teacher's
// worker.Worker.processJob -- same shape (acquire resource, do the
// side-effecting call, record success/failure, always release) -- but
// swapping Redis list semantics for the lock+coordinator+processor
// composition this domain requires.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ssh-randy/payments-core/internal/apperrors"
	"github.com/ssh-randy/payments-core/internal/breaker"
	"github.com/ssh-randy/payments-core/internal/coordinator"
	"github.com/ssh-randy/payments-core/internal/domain"
	"github.com/ssh-randy/payments-core/internal/lock"
	"github.com/ssh-randy/payments-core/internal/obs"
	"github.com/ssh-randy/payments-core/internal/processor"
	"github.com/ssh-randy/payments-core/internal/restaurantconfig"
	"github.com/ssh-randy/payments-core/internal/tokenization"
)

// Result is the outcome of one orchestrator invocation, per spec.md §4.7.
type Result string

const (
	ResultSuccess          Result = "SUCCESS"
	ResultSkippedLock      Result = "SKIPPED_LOCK"
	ResultSkippedVoid      Result = "SKIPPED_VOID"
	ResultTerminalFailure  Result = "TERMINAL_FAILURE"
	ResultRetryableFailure Result = "RETRYABLE_FAILURE"
)

// Orchestrator wires together the Distributed Lock, Transaction Coordinator,
// Tokenization client, and payment processor into the per-message workflow.
type Orchestrator struct {
	locks      *lock.Lock
	coord      *coordinator.Coordinator
	tokenizer  *tokenization.Client
	processors processor.Processor
	configs    *restaurantconfig.Store
	breakers   *breaker.CircuitBreaker
	lockTTL    time.Duration
	maxRetries int
	workerID   string
	log        *zap.Logger
}

func New(locks *lock.Lock, coord *coordinator.Coordinator, tokenizer *tokenization.Client, proc processor.Processor, configs *restaurantconfig.Store, cb *breaker.CircuitBreaker, lockTTL time.Duration, maxRetries int, workerID string, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		locks:      locks,
		coord:      coord,
		tokenizer:  tokenizer,
		processors: proc,
		configs:    configs,
		breakers:   cb,
		lockTTL:    lockTTL,
		maxRetries: maxRetries,
		workerID:   workerID,
		log:        log,
	}
}

// Process runs the full per-message workflow for authRequestID, reflecting
// receiveCount back into the max-retries decision at step 7. Any panic
// raised by a collaborator (processor/tokenization adapter, etc.) is
// recovered here and mapped to a terminal UNEXPECTED_ERROR outcome rather
// than crashing the worker process (spec.md §7's Unexpected taxonomy
// entry) -- the lock release deferred inside process still runs, since
// recover happens in this enclosing frame after that defer has unwound.
func (o *Orchestrator) Process(ctx context.Context, authRequestID, restaurantID string, receiveCount int) (result Result) {
	ctx, span := obs.StartWorkerSpan(ctx, authRequestID, restaurantID, receiveCount)
	defer span.End()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("recovered panic in orchestrator", zap.String("auth_request_id", authRequestID), zap.Any("panic", r))
			result = o.failTerminal(ctx, authRequestID, apperrors.CodeUnexpectedError, fmt.Sprintf("panic: %v", r), receiveCount)
		}
		obs.AuthProcessingDuration.Observe(time.Since(start).Seconds())
		if result == ResultTerminalFailure || result == ResultRetryableFailure {
			obs.RecordError(ctx, fmt.Errorf("orchestrator result %s", result))
		} else {
			obs.SetSpanSuccess(ctx)
		}
	}()
	result = o.process(ctx, authRequestID, receiveCount)
	return result
}

func (o *Orchestrator) process(ctx context.Context, authRequestID string, receiveCount int) Result {
	// Step 1: acquire the processing lock. Any lock acquired here is
	// guaranteed released by the deferred call below, whatever exit path
	// is taken.
	acquired, err := o.locks.TryAcquire(ctx, authRequestID, o.workerID, o.lockTTL)
	if err != nil {
		o.log.Error("lock acquire error", zap.String("auth_request_id", authRequestID), obs.Err(err))
		return ResultRetryableFailure
	}
	if !acquired {
		return ResultSkippedLock
	}
	defer func() {
		if err := o.locks.Release(ctx, authRequestID, o.workerID); err != nil {
			o.log.Warn("lock release error", zap.String("auth_request_id", authRequestID), obs.Err(err))
		}
	}()

	// Step 2: void-race guard.
	voided, err := o.coord.HasVoidEvent(ctx, authRequestID)
	if err != nil {
		o.log.Error("void check error", zap.String("auth_request_id", authRequestID), obs.Err(err))
		return ResultRetryableFailure
	}
	if voided {
		if _, err := o.coord.RecordExpired(ctx, authRequestID, "voided before processing"); err != nil {
			o.log.Error("record expired (void) error", obs.Err(err))
		}
		return ResultSkippedVoid
	}

	// Step 3: append AuthAttemptStarted, move to PROCESSING (or bump retry
	// bookkeeping if already there).
	if _, err := o.coord.RecordStarted(ctx, authRequestID, receiveCount, o.workerID); err != nil {
		o.log.Error("record started error", obs.Err(err))
		return ResultRetryableFailure
	}
	obs.AuthAttemptsStarted.Inc()

	// Step 4: load request details and restaurant config.
	state, err := o.coord.Get(ctx, authRequestID)
	if err != nil {
		var notFound *apperrors.ErrNotFound
		if errors.As(err, &notFound) {
			return o.failTerminal(ctx, authRequestID, apperrors.CodeNotFound, err.Error(), receiveCount)
		}
		o.log.Error("read model load error", obs.Err(err))
		return ResultRetryableFailure
	}

	cfg, err := o.configs.Get(ctx, state.RestaurantID)
	if err != nil {
		var notFound *apperrors.ErrNotFound
		if errors.As(err, &notFound) {
			return o.failTerminal(ctx, authRequestID, apperrors.CodeConfigNotFound, err.Error(), receiveCount)
		}
		o.log.Error("restaurant config load error", obs.Err(err))
		return ResultRetryableFailure
	}

	// Step 5: decrypt the payment token via the tokenization service.
	payment, err := o.tokenizer.Decrypt(ctx, state.PaymentToken, state.RestaurantID)
	if err != nil {
		var tokenTerminal *apperrors.ErrTokenTerminal
		if errors.As(err, &tokenTerminal) {
			return o.failTerminal(ctx, authRequestID, tokenTerminal.Code, tokenTerminal.Detail, receiveCount)
		}
		return o.failOrRetry(ctx, authRequestID, "tokenization unreachable", err, receiveCount)
	}

	// Step 6: authorize via the payment processor.
	if !o.breakers.Allow() {
		return o.failOrRetry(ctx, authRequestID, "circuit breaker open", errors.New("processor circuit open"), receiveCount)
	}

	procCtx, procSpan := obs.StartProcessorSpan(ctx, o.processors.Name())
	authResult, err := o.processors.Authorize(procCtx, *payment, state.AmountCents, state.Currency, cfg)
	procSpan.End()

	prevState := o.breakers.State()
	o.breakers.Record(err == nil)
	if o.breakers.State() != prevState && o.breakers.State() == breaker.Open {
		obs.CircuitBreakerTrips.WithLabelValues(o.processors.Name()).Inc()
	}
	obs.CircuitBreakerState.WithLabelValues(o.processors.Name()).Set(float64(o.breakers.State()))

	if err != nil {
		var invalidReq *processor.ErrInvalidRequest
		if errors.As(err, &invalidReq) {
			// A data/protocol error against a real processor is never
			// resolved by retrying the same unchanged request (spec.md §9).
			return o.failTerminal(ctx, authRequestID, apperrors.CodeInvalidRequest, err.Error(), receiveCount)
		}
		return o.failOrRetry(ctx, authRequestID, "processor call failed", err, receiveCount)
	}

	switch authResult.Status {
	case processor.AuthStatusAuthorized:
		if _, err := o.coord.RecordAuthorized(ctx, authRequestID, domain.AuthorizedOutcome{
			ProcessorName:         authResult.ProcessorName,
			ProcessorAuthID:       authResult.ProcessorAuthID,
			AuthorizedAmountCents: authResult.AuthorizedAmountCents,
			AuthorizationCode:     authResult.AuthorizationCode,
		}); err != nil {
			o.log.Error("record authorized error", obs.Err(err))
			return ResultRetryableFailure
		}
		obs.AuthAttemptsAuthorized.Inc()
		return ResultSuccess
	case processor.AuthStatusDenied:
		if _, err := o.coord.RecordDenied(ctx, authRequestID, domain.DeniedOutcome{
			ProcessorName: authResult.ProcessorName,
			DenialCode:    authResult.DenialCode,
			DenialReason:  authResult.DenialReason,
		}); err != nil {
			o.log.Error("record denied error", obs.Err(err))
			return ResultRetryableFailure
		}
		obs.AuthAttemptsDenied.Inc()
		return ResultSuccess
	default:
		return o.failOrRetry(ctx, authRequestID, "unrecognized processor status", fmt.Errorf("status %q", authResult.Status), receiveCount)
	}
}

// failOrRetry implements step 7's retry policy: once receiveCount reaches
// maxRetries, the failure becomes terminal; otherwise it is recorded as
// retryable and the message is left for redelivery.
func (o *Orchestrator) failOrRetry(ctx context.Context, authRequestID, message string, cause error, receiveCount int) Result {
	if receiveCount >= o.maxRetries {
		return o.failTerminal(ctx, authRequestID, apperrors.CodeMaxRetriesExceeded, message+": "+cause.Error(), receiveCount)
	}
	if _, err := o.coord.RecordFailedRetryable(ctx, authRequestID, "PROCESSOR_TIMEOUT", message, receiveCount); err != nil {
		o.log.Error("record failed-retryable error", obs.Err(err))
	}
	obs.AuthAttemptsFailed.Inc()
	obs.AuthAttemptsRetried.Inc()
	return ResultRetryableFailure
}

func (o *Orchestrator) failTerminal(ctx context.Context, authRequestID, code, message string, receiveCount int) Result {
	if _, err := o.coord.RecordFailedTerminal(ctx, authRequestID, code, message, receiveCount); err != nil {
		o.log.Error("record failed-terminal error", obs.Err(err))
	}
	obs.AuthAttemptsFailed.Inc()
	return ResultTerminalFailure
}
