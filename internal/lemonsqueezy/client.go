// Package lemonsqueezy wraps the Lemon Squeezy REST API (JSON:API flavoured)
// calls used by the billing backend.
package lemonsqueezy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/HasithaS001/doclama-sub001/internal/config"
)

const (
	contentType = "application/vnd.api+json"

	// The provider allows 300 API calls per minute per key.
	defaultRateLimit = rate.Limit(300.0 / 60.0)
	defaultBurst     = 10

	maxResponseBytes = 1 << 20
)

// Client wraps Lemon Squeezy API calls using the REST API directly (no SDK dependency).
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit overrides the outbound request pacing.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewClient creates a new Lemon Squeezy API client.
func NewClient(cfg config.LemonSqueezyConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(defaultRateLimit, defaultBurst),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "lemonsqueezy",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isBreakerSuccess,
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckoutData is the customer data prefilled on the hosted checkout page.
type CheckoutData struct {
	Email  string
	Custom map[string]string
}

// CreateCheckout creates a hosted checkout for one store variant. The redirect
// URL is available at resp.Data.Attributes.URL.
func (c *Client) CreateCheckout(ctx context.Context, storeID, variantID string, data CheckoutData) (*CheckoutResponse, error) {
	if storeID == "" || variantID == "" {
		return nil, errors.New("create checkout: store and variant ids are required")
	}

	doc := checkoutDocument{
		Data: checkoutResource{
			Type: "checkouts",
			Attributes: checkoutAttributesInput{
				CheckoutData: checkoutDataInput{
					Email:  data.Email,
					Custom: data.Custom,
				},
			},
			Relationships: checkoutRelationships{
				Store:   relationship{Data: resourceIdentifier{Type: "stores", ID: storeID}},
				Variant: relationship{Data: resourceIdentifier{Type: "variants", ID: variantID}},
			},
		},
	}

	var resp CheckoutResponse
	if err := c.do(ctx, http.MethodPost, "/checkouts", doc, &resp); err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	if resp.Data.Attributes.URL == "" {
		return nil, errors.New("create checkout: missing checkout url in response")
	}

	return &resp, nil
}

// GetPrice fetches a price record, used to resolve what a subscription item costs.
func (c *Client) GetPrice(ctx context.Context, priceID string) (*PriceResponse, error) {
	if priceID == "" {
		return nil, errors.New("get price: price id is required")
	}

	var resp PriceResponse
	if err := c.do(ctx, http.MethodGet, "/prices/"+url.PathEscape(priceID), nil, &resp); err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	return &resp, nil
}

// HTTP helpers

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.send(ctx, method, path, payload)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse lemonsqueezy response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode lemonsqueezy request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lemonsqueezy request failed: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxResponseBytes)); err != nil {
		return nil, fmt.Errorf("read lemonsqueezy response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, buf.Bytes())
	}
	return buf.Bytes(), nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var doc struct {
		Errors []struct {
			Status string `json:"status"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &doc); err == nil && len(doc.Errors) > 0 {
		apiErr.Title = doc.Errors[0].Title
		apiErr.Detail = doc.Errors[0].Detail
	}
	return apiErr
}

// Client-side rejections must not open the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < http.StatusInternalServerError
	}
	return false
}
