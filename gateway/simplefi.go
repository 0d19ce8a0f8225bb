// Package gateway talks to the SimpleFi payment processor. It creates
// payment requests and installment plans; settlement results come back
// through the webhook endpoint, not through this client.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Error is returned when the processor could not be reached or answered
// with an error status after the single retry. The payment stays pending;
// there is no further automatic retry.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("simplefi request failed: %v", e.Err)
	}
	return fmt.Sprintf("simplefi request failed: status %d", e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

// ReferenceProduct identifies one line item inside the opaque reference
// blob echoed back by the processor.
type ReferenceProduct struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	AttendeeID string `json:"attendee_id"`
}

// Reference is attached to the payment request and returned verbatim in
// webhook notifications.
type Reference struct {
	Email         string             `json:"email"`
	ApplicationID string             `json:"application_id"`
	Products      []ReferenceProduct `json:"products,omitempty"`
}

// PaymentRequest is the processor's response to a create call.
type PaymentRequest struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkout_url"`
}

// Client performs one network attempt per call; on transport failure or a
// status >= 400 it waits RetryDelay and retries exactly once.
type Client struct {
	apiURL          string
	notificationURL string
	httpClient      *http.Client
	retryDelay      time.Duration
	logger          *zap.Logger
}

// NewClient derives the processor's notification callback URL from the
// configured base service URL.
func NewClient(apiURL, backendURL string, logger *zap.Logger) *Client {
	notificationURL, _ := url.JoinPath(backendURL, "webhooks", "payments")
	return &Client{
		apiURL:          apiURL,
		notificationURL: notificationURL,
		httpClient:      &http.Client{Timeout: 20 * time.Second},
		retryDelay:      5 * time.Second,
		logger:          logger,
	}
}

// CreatePayment creates a remote payment request, or an installment plan
// when maxInstallments > 1.
func (c *Client) CreatePayment(
	ctx context.Context,
	amount float64,
	reference Reference,
	apiKey string,
	maxInstallments int,
) (*PaymentRequest, error) {
	if maxInstallments > 1 {
		body := map[string]any{
			"total_amount":     amount,
			"currency":         "USD",
			"max_installments": maxInstallments,
			"user_email":       reference.Email,
			"reference":        reference,
			"interval":         "week",
			"interval_count":   2,
			"notification_url": c.notificationURL,
		}
		return c.post(ctx, "/installment_plans", body, apiKey)
	}

	body := map[string]any{
		"amount":           amount,
		"currency":         "USD",
		"reference":        reference,
		"memo":             "Event registration payment",
		"notification_url": c.notificationURL,
	}
	return c.post(ctx, "/payment_requests", body, apiKey)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, apiKey string) (*PaymentRequest, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := c.attempt(ctx, path, payload, apiKey)
	if err == nil && resp.StatusCode < 400 {
		return decode(resp)
	}
	if resp != nil {
		resp.Body.Close()
		c.logger.Error("simplefi request failed, retrying",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
	} else {
		c.logger.Error("simplefi request failed, retrying",
			zap.String("path", path), zap.Error(err))
	}

	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
		return nil, &Error{Err: ctx.Err()}
	}

	resp, err = c.attempt(ctx, path, payload, apiKey)
	if err != nil {
		return nil, &Error{Err: err}
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &Error{StatusCode: resp.StatusCode}
	}
	return decode(resp)
}

func (c *Client) attempt(ctx context.Context, path string, payload []byte, apiKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return c.httpClient.Do(req)
}

func decode(resp *http.Response) (*PaymentRequest, error) {
	defer resp.Body.Close()
	var pr PaymentRequest
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, &Error{Err: err}
	}
	return &pr, nil
}
