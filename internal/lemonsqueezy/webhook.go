package lemonsqueezy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

var ErrInvalidSignature = errors.New("lemonsqueezy: invalid webhook signature")

// VerifySignature checks the webhook signature against the signing secret.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}

	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature the provider would send for body. Used by tests
// and local tooling that replays events.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Webhook is the envelope of every provider notification.
type Webhook struct {
	Meta WebhookMeta `json:"meta"`
	Data WebhookData `json:"data"`
}

// WebhookMeta names the event and echoes the custom data set at checkout.
type WebhookMeta struct {
	EventName  string         `json:"event_name"`
	TestMode   bool           `json:"test_mode"`
	CustomData map[string]any `json:"custom_data"`
}

// UserID returns custom_data.user_id as passed at checkout creation.
func (m WebhookMeta) UserID() string {
	switch v := m.CustomData["user_id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// WebhookData is the resource the event is about. Attributes are decoded
// per resource type.
type WebhookData struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

// SubscriptionAttributes is the attribute set of a "subscriptions" resource.
type SubscriptionAttributes struct {
	StoreID               int64             `json:"store_id"`
	CustomerID            int64             `json:"customer_id"`
	OrderID               int64             `json:"order_id"`
	OrderItemID           int64             `json:"order_item_id"`
	ProductID             int64             `json:"product_id"`
	VariantID             int64             `json:"variant_id"`
	ProductName           string            `json:"product_name"`
	VariantName           string            `json:"variant_name"`
	UserName              string            `json:"user_name"`
	UserEmail             string            `json:"user_email"`
	Status                string            `json:"status"`
	StatusFormatted       string            `json:"status_formatted"`
	Pause                 json.RawMessage   `json:"pause"`
	Cancelled             bool              `json:"cancelled"`
	TrialEndsAt           *time.Time        `json:"trial_ends_at"`
	RenewsAt              *time.Time        `json:"renews_at"`
	EndsAt                *time.Time        `json:"ends_at"`
	UpdatedAt             *time.Time        `json:"updated_at"`
	FirstSubscriptionItem *SubscriptionItem `json:"first_subscription_item"`
	TestMode              bool              `json:"test_mode"`
}

// IsPaused reports whether payment collection is paused.
func (a SubscriptionAttributes) IsPaused() bool {
	p := strings.TrimSpace(string(a.Pause))
	return p != "" && p != "null"
}

// SubscriptionItem links a subscription to the price it bills.
type SubscriptionItem struct {
	ID             int64 `json:"id"`
	SubscriptionID int64 `json:"subscription_id"`
	PriceID        int64 `json:"price_id"`
	Quantity       int   `json:"quantity"`
	IsUsageBased   bool  `json:"is_usage_based"`
}

// ParseWebhook decodes a webhook body; the event name is required.
func ParseWebhook(body []byte) (*Webhook, error) {
	var wh Webhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("parse webhook: %w", err)
	}
	if wh.Meta.EventName == "" {
		return nil, errors.New("parse webhook: missing meta.event_name")
	}
	return &wh, nil
}

// SubscriptionAttributes decodes the data attributes of a subscription event.
func (d WebhookData) SubscriptionAttributes() (SubscriptionAttributes, error) {
	var attrs SubscriptionAttributes
	if d.Type != "subscriptions" {
		return attrs, fmt.Errorf("unexpected resource type %q", d.Type)
	}
	if err := json.Unmarshal(d.Attributes, &attrs); err != nil {
		return attrs, fmt.Errorf("decode subscription attributes: %w", err)
	}
	return attrs, nil
}
