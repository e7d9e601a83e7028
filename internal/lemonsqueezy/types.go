package lemonsqueezy

import (
	"fmt"
	"net/http"
	"time"
)

// APIError is returned for non-2xx provider responses.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lemonsqueezy API error (%d): %s", e.StatusCode, e.Message())
}

// Message returns the most specific human readable description available.
func (e *APIError) Message() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	default:
		return http.StatusText(e.StatusCode)
	}
}

// CheckoutResponse is the document returned by POST /checkouts.
type CheckoutResponse struct {
	Data Checkout `json:"data"`
}

// Checkout is a "checkouts" resource.
type Checkout struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	Attributes CheckoutAttributes `json:"attributes"`
}

// CheckoutAttributes holds the hosted checkout URL and its expiry.
type CheckoutAttributes struct {
	StoreID   int64      `json:"store_id"`
	VariantID int64      `json:"variant_id"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	TestMode  bool       `json:"test_mode"`
}

// PriceResponse is the document returned by GET /prices/:id.
type PriceResponse struct {
	Data Price `json:"data"`
}

// Price is a "prices" resource.
type Price struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Attributes PriceAttributes `json:"attributes"`
}

// PriceAttributes describes a price; UnitPrice is in cents.
type PriceAttributes struct {
	VariantID               int64  `json:"variant_id"`
	Category                string `json:"category"`
	Scheme                  string `json:"scheme"`
	UnitPrice               int64  `json:"unit_price"`
	RenewalIntervalUnit     string `json:"renewal_interval_unit"`
	RenewalIntervalQuantity int    `json:"renewal_interval_quantity"`
}

// JSON:API request document for checkout creation.
type checkoutDocument struct {
	Data checkoutResource `json:"data"`
}

type checkoutResource struct {
	Type          string                  `json:"type"`
	Attributes    checkoutAttributesInput `json:"attributes"`
	Relationships checkoutRelationships   `json:"relationships"`
}

type checkoutAttributesInput struct {
	CheckoutData checkoutDataInput `json:"checkout_data"`
}

type checkoutDataInput struct {
	Email  string            `json:"email,omitempty"`
	Custom map[string]string `json:"custom,omitempty"`
}

type checkoutRelationships struct {
	Store   relationship `json:"store"`
	Variant relationship `json:"variant"`
}

type relationship struct {
	Data resourceIdentifier `json:"data"`
}

type resourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}
