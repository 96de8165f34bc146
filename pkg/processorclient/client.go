/**
 * @description
 * This package provides a client for interacting with the hosted payment processor
 * API. It encapsulates the logic for making authenticated HTTP requests, handling
 * request body construction, and parsing responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package processorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the payment processor API.
type Client struct {
	BaseURL    string
	APIKey     string
	NotifyURL  string
	HTTPClient *http.Client
}

// NewClient creates a new payment processor API client. notifyURL is the callback
// address the processor posts payment notifications to.
func NewClient(baseURL, apiKey, notifyURL string) *Client {
	return &Client{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		NotifyURL: notifyURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckoutRequest represents the payload for creating a hosted checkout.
type CheckoutRequest struct {
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	NotifyURL   string `json:"notification_url"`
}

// CheckoutResponse is the expected response from the checkout endpoint.
type CheckoutResponse struct {
	Code        string `json:"code"`
	RedirectURL string `json:"redirect_url"`
	Status      string `json:"status"`
}

// Notification represents the state of one payment as the processor reports it.
type Notification struct {
	Code        string    `json:"code"`
	Reference   string    `json:"reference"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	LastEventAt time.Time `json:"last_event_at"`
}

// ErrorResponse represents an error from the processor API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("processor api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown processor api error"
}

// CreateCheckout asks the processor for a hosted checkout page the payer can be
// redirected to. reference is the caller's correlation token for later callbacks.
func (c *Client) CreateCheckout(ctx context.Context, reference, description string, amount int64) (*CheckoutResponse, error) {
	reqPayload := CheckoutRequest{
		Reference:   reference,
		Description: description,
		Amount:      amount,
		Currency:    "BRL",
		NotifyURL:   c.NotifyURL,
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/checkouts", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute checkout request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkout response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=processor_client op=create_checkout status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=processor_client op=create_checkout status=%d title=%q detail=%q", resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp CheckoutResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode checkout response: %w", err)
	}

	return &successResp, nil
}

// GetNotification fetches the authoritative state of one payment notification from
// the processor. Callbacks only carry a code; the payment status is always pulled.
func (c *Client) GetNotification(ctx context.Context, code string) (*Notification, error) {
	url := c.BaseURL + "/api/v1/notifications/" + code

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute notification request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read notification response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=processor_client op=get_notification code=%s status=%d msg=\"non-2xx response (unparsable error body)\"", code, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=processor_client op=get_notification code=%s status=%d title=%q detail=%q", code, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var notification Notification
	if err := json.Unmarshal(bodyBytes, &notification); err != nil {
		return nil, fmt.Errorf("failed to decode notification response: %w", err)
	}

	return &notification, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
