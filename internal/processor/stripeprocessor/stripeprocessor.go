// Copyright 2025 James Ross
//
// Package stripeprocessor is a real-vendor-shaped backend for the
// Processor Abstraction (component J). Grounded on original_source's
// stripe_processor.py: it authorizes via a PaymentIntent created with
// capture_method=manual (an authorization hold, not a capture), over
// Stripe's HTTP API rather than the Go SDK (keeping the dependency surface
// to the HTTP client already used elsewhere, per SPEC_FULL.md's domain
// stack). Per-call transient failures (timeouts, 5xx, 429) are retried with
// cenkalti/backoff/v4 before surfacing processor.ErrTimeout to the worker --
// this is independent of, and sits below, the orchestrator's own
// receive-count retry policy.
package stripeprocessor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ssh-randy/payments-core/internal/processor"
)

const baseURL = "https://api.stripe.com/v1"

// Processor talks to Stripe's Payment Intents API.
type Processor struct {
	apiKey     string
	httpClient *http.Client
	maxElapsed time.Duration
}

func New(apiKey string, timeout time.Duration) *Processor {
	return &Processor{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: 2 * timeout,
	}
}

func (p *Processor) Name() string { return "stripe" }

type piResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Charges struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"charges"`
	LastPaymentError *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		DeclineCode string `json:"decline_code"`
	} `json:"last_payment_error"`
}

// Authorize creates a manual-capture PaymentIntent, retrying transient
// network/5xx/429 failures with exponential backoff. A 4xx request error
// (bad card data, bad amount) is not retried -- it is translated directly
// into processor.ErrInvalidRequest.
func (p *Processor) Authorize(ctx context.Context, payment processor.PaymentData, amountCents int64, currency string, config map[string]string) (*processor.AuthorizationResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", currency)
	form.Set("capture_method", "manual")
	form.Set("confirm", "true")
	form.Set("payment_method_data[type]", "card")
	form.Set("payment_method_data[card][number]", payment.CardNumber)
	form.Set("payment_method_data[card][exp_month]", strconv.Itoa(payment.ExpiryMonth))
	form.Set("payment_method_data[card][exp_year]", strconv.Itoa(payment.ExpiryYear))
	form.Set("payment_method_data[card][cvc]", payment.CVC)
	form.Set("payment_method_data[billing_details][name]", payment.CardholderName)
	for k, v := range config {
		form.Set("metadata["+k+"]", v)
	}

	var resp piResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/payment_intents", bytes.NewBufferString(form.Encode()))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build stripe request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(p.apiKey, "")

		httpResp, err := p.httpClient.Do(req)
		if err != nil {
			return err // network error: retryable
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("stripe transient status %d", httpResp.StatusCode)
		}
		if httpResp.StatusCode >= 400 {
			var decoded piResponse
			_ = json.NewDecoder(httpResp.Body).Decode(&decoded)
			resp = decoded
			return backoff.Permanent(&clientError{status: httpResp.StatusCode})
		}
		return json.NewDecoder(httpResp.Body).Decode(&resp)
	}

	bo := backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), p.maxElapsed)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		var ce *clientError
		if asClientError(err, &ce) {
			if resp.LastPaymentError != nil && resp.LastPaymentError.Type == "card_error" {
				return p.declineResult(resp), nil
			}
			return nil, &processor.ErrInvalidRequest{Processor: "stripe", Reason: err.Error()}
		}
		return nil, &processor.ErrTimeout{Processor: "stripe", Cause: err}
	}

	if resp.LastPaymentError != nil {
		return p.declineResult(resp), nil
	}
	return &processor.AuthorizationResult{
		Status:                processor.AuthStatusAuthorized,
		ProcessorName:         "stripe",
		ProcessorAuthID:       resp.ID,
		AuthorizedAmountCents: amountCents,
		AuthorizedAt:          time.Now(),
		ProcessorMetadata:     map[string]interface{}{"payment_intent_id": resp.ID, "status": resp.Status},
	}, nil
}

func (p *Processor) declineResult(resp piResponse) *processor.AuthorizationResult {
	code, reason := "card_declined", "Card was declined"
	if resp.LastPaymentError != nil {
		if resp.LastPaymentError.DeclineCode != "" {
			code = resp.LastPaymentError.DeclineCode
		} else if resp.LastPaymentError.Code != "" {
			code = resp.LastPaymentError.Code
		}
		if resp.LastPaymentError.Message != "" {
			reason = resp.LastPaymentError.Message
		}
	}
	return &processor.AuthorizationResult{
		Status:        processor.AuthStatusDenied,
		ProcessorName: "stripe",
		DenialCode:    code,
		DenialReason:  reason,
		ProcessorMetadata: map[string]interface{}{
			"payment_intent_id": resp.ID,
		},
	}
}

// clientError marks a non-retryable 4xx Stripe response.
type clientError struct{ status int }

func (e *clientError) Error() string { return fmt.Sprintf("stripe client error: status %d", e.status) }

func asClientError(err error, target **clientError) bool {
	for err != nil {
		if ce, ok := err.(*clientError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
