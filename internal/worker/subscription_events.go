package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/HasithaS001/doclama-sub001/internal/lemonsqueezy"
	"github.com/HasithaS001/doclama-sub001/internal/models"
	"github.com/HasithaS001/doclama-sub001/internal/store"
)

var (
	ErrMissingUserID    = errors.New("missing custom data user_id")
	ErrUnsupportedEvent = errors.New("unsupported event")
)

// SubscriptionStore persists subscription state.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
}

// PriceLookup resolves a provider price id.
type PriceLookup interface {
	GetPrice(ctx context.Context, priceID string) (*lemonsqueezy.PriceResponse, error)
}

// SubscriptionProcessor applies subscription webhook events to the
// subscriptions table.
type SubscriptionProcessor struct {
	store  SubscriptionStore
	prices PriceLookup
	logger *zap.Logger
}

// NewSubscriptionProcessor creates a SubscriptionProcessor. prices may be nil,
// in which case the price column is left empty.
func NewSubscriptionProcessor(store SubscriptionStore, prices PriceLookup, logger *zap.Logger) *SubscriptionProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionProcessor{store: store, prices: prices, logger: logger.Named("subscriptions")}
}

// Process dispatches on the event name. Payment and order notifications are
// acknowledged without changes. Errors that no retry can fix are wrapped with
// Permanent.
func (p *SubscriptionProcessor) Process(ctx context.Context, event models.WebhookEvent) error {
	webhook, err := lemonsqueezy.ParseWebhook(event.Body)
	if err != nil {
		return Permanent(err)
	}

	name := webhook.Meta.EventName
	switch {
	case strings.HasPrefix(name, "subscription_payment_"), strings.HasPrefix(name, "order_"):
		p.logger.Debug("acknowledged event", zap.String("event_name", name))
		return nil
	case strings.HasPrefix(name, "subscription_"):
		return p.applySubscription(ctx, webhook)
	default:
		return Permanent(ErrUnsupportedEvent)
	}
}

func (p *SubscriptionProcessor) applySubscription(ctx context.Context, webhook *lemonsqueezy.Webhook) error {
	userID := webhook.Meta.UserID()
	if userID == "" {
		return Permanent(ErrMissingUserID)
	}

	attrs, err := webhook.Data.SubscriptionAttributes()
	if err != nil {
		return Permanent(err)
	}

	sub := &models.Subscription{
		LemonSqueezyID:    webhook.Data.ID,
		OrderID:           attrs.OrderID,
		Name:              attrs.UserName,
		Email:             attrs.UserEmail,
		Status:            attrs.Status,
		StatusFormatted:   attrs.StatusFormatted,
		RenewsAt:          attrs.RenewsAt,
		EndsAt:            attrs.EndsAt,
		TrialEndsAt:       attrs.TrialEndsAt,
		IsPaused:          attrs.IsPaused(),
		UserID:            userID,
		PlanID:            strconv.FormatInt(attrs.VariantID, 10),
		ProviderUpdatedAt: attrs.UpdatedAt,
	}

	if item := attrs.FirstSubscriptionItem; item != nil {
		sub.SubscriptionItemID = item.ID
		sub.IsUsageBased = item.IsUsageBased
		if item.PriceID > 0 && p.prices != nil {
			price, err := p.prices.GetPrice(ctx, strconv.FormatInt(item.PriceID, 10))
			if err != nil {
				err = fmt.Errorf("get price %d: %w", item.PriceID, err)
				if isClientError(err) {
					return Permanent(err)
				}
				return err
			}
			sub.Price = strconv.FormatInt(price.Data.Attributes.UnitPrice, 10)
		}
	}

	if err := p.store.UpsertSubscription(ctx, sub); err != nil {
		if errors.Is(err, store.ErrStaleUpdate) {
			p.logger.Info("skipped stale subscription update",
				zap.String("event_name", webhook.Meta.EventName),
				zap.String("lemon_squeezy_id", sub.LemonSqueezyID),
			)
			return nil
		}
		return err
	}

	p.logger.Info("subscription saved",
		zap.String("event_name", webhook.Meta.EventName),
		zap.String("lemon_squeezy_id", sub.LemonSqueezyID),
		zap.String("user_id", userID),
		zap.String("status", sub.Status),
	)
	return nil
}

// isClientError reports a provider 4xx other than rate limiting.
func isClientError(err error) bool {
	var apiErr *lemonsqueezy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429
}
