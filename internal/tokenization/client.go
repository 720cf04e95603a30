// Copyright 2025 James Ross
//
// Package tokenization is a thin HTTP client for the tokenization service's
// decrypt contract (spec.md §6). It carries no cryptography itself -- card
// data never touches this core outside of the single decrypted PaymentData
// value returned here and handed straight to a processor.Processor.
package tokenization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ssh-randy/payments-core/internal/apperrors"
	"github.com/ssh-randy/payments-core/internal/processor"
)

// requestingService identifies this core to the tokenization service on
// every call, per spec.md §6's contract.
const requestingService = "payments-core"

// Client calls POST /internal/v1/decrypt on the tokenization service.
type Client struct {
	baseURL     string
	serviceAuth string
	httpClient  *http.Client
}

func New(baseURL, serviceAuth string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, serviceAuth: serviceAuth, httpClient: &http.Client{Timeout: timeout}}
}

type decryptRequest struct {
	Token             string `json:"payment_token"`
	RestaurantID      string `json:"restaurant_id"`
	RequestingService string `json:"requesting_service"`
}

type decryptResponse struct {
	CardNumber     string `json:"card_number"`
	ExpiryMonth    int    `json:"expiry_month"`
	ExpiryYear     int    `json:"expiry_year"`
	CVC            string `json:"cvc"`
	CardholderName string `json:"cardholder_name"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decrypt resolves a payment token to card data. restaurantID is carried on
// the request so the tokenization service can scope/audit the decrypt
// against the requesting merchant (spec.md §6). Terminal outcomes
// (TOKEN_NOT_FOUND, TOKEN_EXPIRED, TOKEN_FORBIDDEN) come back as
// *apperrors.ErrTokenTerminal; any other non-2xx or transport failure comes
// back as *apperrors.ErrProcessorTimeout, retryable by the caller.
func (c *Client) Decrypt(ctx context.Context, paymentToken, restaurantID string) (*processor.PaymentData, error) {
	body, err := json.Marshal(decryptRequest{
		Token:             paymentToken,
		RestaurantID:      restaurantID,
		RequestingService: requestingService,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal decrypt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/v1/decrypt", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build decrypt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Auth", c.serviceAuth)
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.ErrProcessorTimeout{Processor: "tokenization", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var decoded decryptResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("decode decrypt response: %w", err)
		}
		return &processor.PaymentData{
			CardNumber:     decoded.CardNumber,
			ExpiryMonth:    decoded.ExpiryMonth,
			ExpiryYear:     decoded.ExpiryYear,
			CVC:            decoded.CVC,
			CardholderName: decoded.CardholderName,
		}, nil
	}

	var errBody errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errBody)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, &apperrors.ErrTokenTerminal{Code: apperrors.CodeTokenNotFound, Detail: errBody.Message}
	case http.StatusGone:
		return nil, &apperrors.ErrTokenTerminal{Code: apperrors.CodeTokenExpired, Detail: errBody.Message}
	case http.StatusForbidden:
		return nil, &apperrors.ErrTokenTerminal{Code: apperrors.CodeTokenForbidden, Detail: errBody.Message}
	default:
		return nil, &apperrors.ErrProcessorTimeout{Processor: "tokenization", Cause: fmt.Errorf("status %d: %s", resp.StatusCode, errBody.Message)}
	}
}
