// Copyright 2025 James Ross
//
// Package mockprocessor is a table-driven payment processor backend for
// tests and local development, grounded directly on original_source's
// mock_processor.py: a fixed table of Stripe test-card numbers, each bound
// to a canned outcome (success, decline, timeout, rate limit, or
// requires_action), plus a default behavior for any unlisted card.
package mockprocessor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ssh-randy/payments-core/internal/processor"
)

type behaviorType string

const (
	behaviorSuccess        behaviorType = "success"
	behaviorDecline        behaviorType = "decline"
	behaviorTimeout        behaviorType = "timeout"
	behaviorRateLimit      behaviorType = "rate_limit"
	behaviorRequiresAction behaviorType = "requires_action"
)

type behavior struct {
	kind        behaviorType
	authCode    string
	declineCode string
	reason      string
}

// testCardBehaviors mirrors Stripe's published test cards
// (https://docs.stripe.com/testing#cards), matching original_source's
// TEST_CARD_BEHAVIORS table card-for-card.
var testCardBehaviors = map[string]behavior{
	"4242424242424242": {kind: behaviorSuccess, authCode: "123456"},
	"5555555555554444": {kind: behaviorSuccess, authCode: "789012"},
	"378282246310005":  {kind: behaviorSuccess, authCode: "345678"},

	"4000000000000002": {kind: behaviorDecline, declineCode: "card_declined", reason: "Your card was declined"},
	"4000000000009995": {kind: behaviorDecline, declineCode: "insufficient_funds", reason: "Your card has insufficient funds"},
	"4000000000000069": {kind: behaviorDecline, declineCode: "expired_card", reason: "Your card has expired"},
	"4000000000000127": {kind: behaviorDecline, declineCode: "incorrect_cvc", reason: "Your card's security code is incorrect"},
	"4000000000000341": {kind: behaviorDecline, declineCode: "lost_card", reason: "Your card has been declined"},
	"4000000000000226": {kind: behaviorDecline, declineCode: "fraudulent", reason: "Your card has been declined"},

	"4000000000000119": {kind: behaviorTimeout},
	"4000000000009987": {kind: behaviorRateLimit},

	"4000002500003155": {kind: behaviorRequiresAction},
}

// Processor is the mock backend. DefaultResponse governs unlisted cards
// ("AUTHORIZED" or "DENIED"); Latency simulates processing time the way a
// real HTTP round trip would.
type Processor struct {
	DefaultResponse processor.AuthStatus
	Latency         time.Duration
}

func New() *Processor {
	return &Processor{DefaultResponse: processor.AuthStatusAuthorized, Latency: 50 * time.Millisecond}
}

func (p *Processor) Name() string { return "mock" }

func (p *Processor) Authorize(ctx context.Context, payment processor.PaymentData, amountCents int64, currency string, config map[string]string) (*processor.AuthorizationResult, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b, known := testCardBehaviors[payment.CardNumber]
	if !known {
		if p.DefaultResponse == processor.AuthStatusDenied {
			b = behavior{kind: behaviorDecline, declineCode: "card_declined", reason: "Card was declined"}
		} else {
			b = behavior{kind: behaviorSuccess, authCode: randomAuthCode()}
		}
	}

	switch b.kind {
	case behaviorTimeout:
		return nil, &processor.ErrTimeout{Processor: "mock", Cause: nil}
	case behaviorRateLimit:
		return nil, &processor.ErrTimeout{Processor: "mock", Cause: nil}
	case behaviorRequiresAction:
		return &processor.AuthorizationResult{
			Status:       processor.AuthStatusDenied,
			ProcessorName: "mock",
			DenialCode:   "requires_action",
			DenialReason: "Payment requires additional authentication",
			ProcessorMetadata: map[string]interface{}{
				"mock_payment_intent_id": "mock_pi_" + uuid.NewString(),
			},
		}, nil
	case behaviorDecline:
		return &processor.AuthorizationResult{
			Status:        processor.AuthStatusDenied,
			ProcessorName: "mock",
			DenialCode:    b.declineCode,
			DenialReason:  b.reason,
			ProcessorMetadata: map[string]interface{}{
				"payment_intent_id": "mock_pi_" + uuid.NewString(),
				"test_card":         payment.CardNumber,
			},
		}, nil
	default: // behaviorSuccess
		return &processor.AuthorizationResult{
			Status:                processor.AuthStatusAuthorized,
			ProcessorName:         "mock",
			ProcessorAuthID:       "mock_pi_" + uuid.NewString(),
			AuthorizationCode:     b.authCode,
			AuthorizedAmountCents: amountCents,
			AuthorizedAt:          time.Now(),
			ProcessorMetadata: map[string]interface{}{
				"card_brand": cardBrand(payment.CardNumber),
				"card_last4": last4(payment.CardNumber),
			},
		}, nil
	}
}

func last4(cardNumber string) string {
	if len(cardNumber) < 4 {
		return cardNumber
	}
	return cardNumber[len(cardNumber)-4:]
}

func cardBrand(cardNumber string) string {
	switch {
	case len(cardNumber) > 0 && cardNumber[0] == '4':
		return "visa"
	case len(cardNumber) >= 2 && cardNumber[:2] >= "51" && cardNumber[:2] <= "55":
		return "mastercard"
	case len(cardNumber) >= 2 && (cardNumber[:2] == "34" || cardNumber[:2] == "37"):
		return "amex"
	default:
		return "unknown"
	}
}

func randomAuthCode() string {
	return uuid.NewString()[:6]
}
