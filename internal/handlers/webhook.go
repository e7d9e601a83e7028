package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/HasithaS001/doclama-sub001/internal/lemonsqueezy"
	"github.com/HasithaS001/doclama-sub001/internal/models"
)

const maxWebhookBody = 64 << 10

// WebhookEventStore persists accepted webhook deliveries.
type WebhookEventStore interface {
	InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
}

// ReplayGuard detects deliveries that were already accepted.
type ReplayGuard interface {
	FirstSeen(ctx context.Context, payload []byte) (bool, error)
	Forget(ctx context.Context, payload []byte) error
}

// EventNotifier is told when a new event is waiting to be processed.
type EventNotifier interface {
	Notify()
}

// WebhookHandler verifies and stores Lemon Squeezy webhook deliveries.
// Processing happens asynchronously in the worker.
type WebhookHandler struct {
	store    WebhookEventStore
	guard    ReplayGuard
	notifier EventNotifier
	secret   string
	logger   *zap.Logger
}

// NewWebhookHandler creates a WebhookHandler. guard and notifier may be nil.
func NewWebhookHandler(store WebhookEventStore, guard ReplayGuard, notifier EventNotifier, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		store:    store,
		guard:    guard,
		notifier: notifier,
		secret:   secret,
		logger:   logger.Named("webhook"),
	}
}

// RegisterRoutes registers the webhook route.
func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/webhooks/lemonsqueezy", h.HandleWebhook())
}

// HandleWebhook stores a signed delivery as an unprocessed event.
func (h *WebhookHandler) HandleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, models.ErrorResponse{Message: "payload too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Message: "failed to read body"})
			return
		}

		if err := lemonsqueezy.VerifySignature(h.secret, body, r.Header.Get(lemonsqueezy.SignatureHeader)); err != nil {
			h.logger.Warn("rejected webhook", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Message: "invalid signature"})
			return
		}

		webhook, err := lemonsqueezy.ParseWebhook(body)
		if err != nil {
			h.logger.Warn("invalid webhook payload", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Message: "invalid webhook payload"})
			return
		}

		if h.guard != nil {
			first, err := h.guard.FirstSeen(r.Context(), body)
			if err != nil {
				h.logger.Warn("replay guard unavailable, accepting delivery", zap.Error(err))
			}
			if !first {
				h.logger.Info("duplicate webhook ignored", zap.String("event_name", webhook.Meta.EventName))
				writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
				return
			}
		}

		event := &models.WebhookEvent{
			EventName: webhook.Meta.EventName,
			Body:      body,
		}
		if err := h.store.InsertWebhookEvent(r.Context(), event); err != nil {
			h.logger.Error("failed to store webhook event", zap.String("event_name", event.EventName), zap.Error(err))
			if h.guard != nil {
				if ferr := h.guard.Forget(r.Context(), body); ferr != nil {
					h.logger.Warn("failed to clear replay key", zap.Error(ferr))
				}
			}
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Message: msgInternalError})
			return
		}

		h.logger.Info("webhook event stored",
			zap.String("event_id", event.ID),
			zap.String("event_name", event.EventName),
			zap.Bool("test_mode", webhook.Meta.TestMode),
		)
		if h.notifier != nil {
			h.notifier.Notify()
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
