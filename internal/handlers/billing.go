package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/HasithaS001/doclama-sub001/internal/middleware"
	"github.com/HasithaS001/doclama-sub001/internal/models"
	"github.com/HasithaS001/doclama-sub001/internal/store"
)

// SubscriptionReader loads the subscription recorded for a user.
type SubscriptionReader interface {
	GetSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error)
}

// CurrentSubscription returns the latest subscription for the caller's
// authenticated user id, or null when none has been recorded.
func CurrentSubscription(reader SubscriptionReader, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		identity, _ := middleware.IdentityFrom(r.Context())
		// Configured default identities never unlock stored subscriptions.
		if !identity.Authenticated || identity.UserID == "" {
			writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Message: "missing user identity"})
			return
		}

		sub, err := reader.GetSubscriptionByUserID(r.Context(), identity.UserID)
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"subscription": nil})
			return
		}
		if err != nil {
			logger.Error("failed to load subscription", zap.String("user_id", identity.UserID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Message: msgInternalError})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
	}
}
