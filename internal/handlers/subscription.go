package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/HasithaS001/doclama-sub001/internal/config"
	"github.com/HasithaS001/doclama-sub001/internal/lemonsqueezy"
	"github.com/HasithaS001/doclama-sub001/internal/middleware"
	"github.com/HasithaS001/doclama-sub001/internal/models"
)

const (
	msgInternalError = "Internal server error"
	msgUnknownError  = "Unknown error"
)

// CheckoutCreator creates hosted checkouts with the payment provider.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, storeID, variantID string, data lemonsqueezy.CheckoutData) (*lemonsqueezy.CheckoutResponse, error)
}

// SubscriptionHandler serves the checkout creation endpoint.
type SubscriptionHandler struct {
	creator CheckoutCreator
	store   config.LemonSqueezyConfig
	logger  *zap.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler. The store id and
// variant come from cfg and never from the request; the customer identity
// comes from the Identity middleware.
func NewSubscriptionHandler(creator CheckoutCreator, cfg config.Config, logger *zap.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionHandler{
		creator: creator,
		store:   cfg.LemonSqueezy,
		logger:  logger.Named("subscription"),
	}
}

// RegisterRoutes registers the subscription routes.
func (h *SubscriptionHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/subscription", h.CreateCheckout())
}

// CreateCheckout validates the product id, creates a checkout for the
// configured store and variant, and returns its redirect URL.
func (h *SubscriptionHandler) CreateCheckout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CheckoutRequest
		// An empty body carries no product id; only malformed JSON is a server-side failure.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.fail(w, "decode checkout request", err)
			return
		}

		if err := req.Validate(); err != nil {
			var verr models.ValidationError
			if errors.As(err, &verr) {
				writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Message: verr.Message})
				return
			}
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Message: err.Error()})
			return
		}

		identity, _ := middleware.IdentityFrom(r.Context())
		checkout, err := h.creator.CreateCheckout(r.Context(), h.store.StoreID, h.store.VariantID, lemonsqueezy.CheckoutData{
			Email:  identity.Email,
			Custom: map[string]string{"user_id": identity.UserID},
		})
		if err == nil && checkout == nil {
			err = errors.New("create checkout: empty response")
		}
		if err != nil {
			h.fail(w, "create checkout", err, zap.String("product_id", req.ProductID))
			return
		}

		h.logger.Info("checkout created",
			zap.String("product_id", req.ProductID),
			zap.String("checkout_id", checkout.Data.ID),
			zap.String("user_id", identity.UserID),
		)
		writeJSON(w, http.StatusOK, models.CheckoutResponse{URL: checkout.Data.Attributes.URL})
	}
}

func (h *SubscriptionHandler) fail(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	h.logger.Error(op+" failed", append(fields, zap.Error(err))...)
	writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
		Message: msgInternalError,
		Error:   errorMessage(err),
	})
}

// errorMessage prefers the provider's own explanation over the wrapped chain.
func errorMessage(err error) string {
	var apiErr *lemonsqueezy.APIError
	if errors.As(err, &apiErr) {
		if msg := apiErr.Message(); msg != "" {
			return msg
		}
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgUnknownError
}
