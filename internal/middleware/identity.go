package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/HasithaS001/doclama-sub001/internal/config"
	"github.com/HasithaS001/doclama-sub001/internal/models"
)

// Headers forwarded by the frontend once it has authenticated the session.
// HeaderUserSignature carries SignIdentity of the two identity headers.
const (
	HeaderUserEmail     = "X-User-Email"
	HeaderUserID        = "X-User-Id"
	HeaderUserSignature = "X-User-Signature"
)

type identityKey struct{}

// Identity attaches the customer identity to the request context. Forwarded
// headers are honoured only with a valid signature; otherwise the configured
// defaults are used and the identity is not marked authenticated.
func Identity(cfg config.CheckoutConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := models.CustomerIdentity{
				Email:  cfg.DefaultEmail,
				UserID: cfg.DefaultUserID,
			}

			email := strings.TrimSpace(r.Header.Get(HeaderUserEmail))
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if (email != "" || userID != "") && verifyIdentity(cfg.IdentitySecret, email, userID, r.Header.Get(HeaderUserSignature)) {
				identity = models.CustomerIdentity{Email: email, UserID: userID, Authenticated: true}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// SignIdentity returns the hex HMAC-SHA256 the frontend sends in
// X-User-Signature for the given identity.
func SignIdentity(secret, email, userID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID + "\n" + email))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyIdentity(secret, email, userID, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(SignIdentity(secret, email, userID))
	return hmac.Equal(got, want)
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity models.CustomerIdentity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity stored by the Identity middleware.
func IdentityFrom(ctx context.Context) (models.CustomerIdentity, bool) {
	identity, ok := ctx.Value(identityKey{}).(models.CustomerIdentity)
	return identity, ok
}
