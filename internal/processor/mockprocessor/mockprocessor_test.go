// Copyright 2025 James Ross
package mockprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssh-randy/payments-core/internal/processor"
)

func newFastProcessor() *Processor {
	p := New()
	p.Latency = 0
	return p
}

func TestAuthorizeSuccessCard(t *testing.T) {
	p := newFastProcessor()
	result, err := p.Authorize(context.Background(), processor.PaymentData{CardNumber: "4242424242424242"}, 1000, "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, processor.AuthStatusAuthorized, result.Status)
	assert.Equal(t, "123456", result.AuthorizationCode)
	assert.Equal(t, int64(1000), result.AuthorizedAmountCents)
}

func TestAuthorizeDeclineCard(t *testing.T) {
	p := newFastProcessor()
	result, err := p.Authorize(context.Background(), processor.PaymentData{CardNumber: "4000000000000002"}, 500, "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, processor.AuthStatusDenied, result.Status)
	assert.Equal(t, "card_declined", result.DenialCode)
}

func TestAuthorizeTimeoutCard(t *testing.T) {
	p := newFastProcessor()
	_, err := p.Authorize(context.Background(), processor.PaymentData{CardNumber: "4000000000000119"}, 500, "USD", nil)
	require.Error(t, err)
	var timeoutErr *processor.ErrTimeout
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestAuthorizeUnknownCardUsesDefault(t *testing.T) {
	p := newFastProcessor()
	p.DefaultResponse = processor.AuthStatusDenied
	result, err := p.Authorize(context.Background(), processor.PaymentData{CardNumber: "4111111111111111"}, 500, "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, processor.AuthStatusDenied, result.Status)
}

func TestAuthorizeRespectsContextCancellation(t *testing.T) {
	p := New()
	p.Latency = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Authorize(ctx, processor.PaymentData{CardNumber: "4242424242424242"}, 500, "USD", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
