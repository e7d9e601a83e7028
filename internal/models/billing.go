package models

import (
	"encoding/json"
	"time"
)

// WebhookEvent is a raw provider notification persisted before processing.
type WebhookEvent struct {
	ID              string          `json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	EventName       string          `json:"event_name"`
	Processed       bool            `json:"processed"`
	Body            json.RawMessage `json:"body"`
	ProcessingError *string         `json:"processing_error,omitempty"`
	// Attempts counts claims, including the one that returned the event.
	Attempts int `json:"attempts"`
}

// Subscription mirrors the provider's subscription record for one user.
type Subscription struct {
	ID                 int64      `json:"id"`
	LemonSqueezyID     string     `json:"lemon_squeezy_id"`
	OrderID            int64      `json:"order_id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	Status             string     `json:"status"`
	StatusFormatted    string     `json:"status_formatted"`
	RenewsAt           *time.Time `json:"renews_at,omitempty"`
	EndsAt             *time.Time `json:"ends_at,omitempty"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	Price              string     `json:"price"`
	IsUsageBased       bool       `json:"is_usage_based"`
	IsPaused           bool       `json:"is_paused"`
	SubscriptionItemID int64      `json:"subscription_item_id"`
	UserID             string     `json:"user_id"`
	PlanID             string     `json:"plan_id"`
	// ProviderUpdatedAt is the provider's updated_at for the applied event.
	ProviderUpdatedAt *time.Time `json:"provider_updated_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
