package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HasithaS001/doclama-sub001/internal/config"
	"github.com/HasithaS001/doclama-sub001/internal/middleware"
	"github.com/HasithaS001/doclama-sub001/internal/models"
	"github.com/HasithaS001/doclama-sub001/internal/store"
)

type mockSubscriptionReader struct {
	lastUserID string
	sub        *models.Subscription
	err        error
}

func (m *mockSubscriptionReader) GetSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	m.lastUserID = userID
	return m.sub, m.err
}

func billingRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil)
	if userID == "" {
		return req
	}
	return req.WithContext(middleware.WithIdentity(req.Context(), models.CustomerIdentity{UserID: userID, Authenticated: true}))
}

func TestCurrentSubscription(t *testing.T) {
	reader := &mockSubscriptionReader{sub: &models.Subscription{LemonSqueezyID: "1001", Status: "active", UserID: "u-42"}}

	rr := httptest.NewRecorder()
	CurrentSubscription(reader, nil).ServeHTTP(rr, billingRequest("u-42"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if reader.lastUserID != "u-42" {
		t.Fatalf("expected lookup for u-42, got %q", reader.lastUserID)
	}
	if !strings.Contains(rr.Body.String(), `"lemon_squeezy_id":"1001"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestCurrentSubscriptionNone(t *testing.T) {
	reader := &mockSubscriptionReader{err: store.ErrNotFound}

	rr := httptest.NewRecorder()
	CurrentSubscription(reader, nil).ServeHTTP(rr, billingRequest("u-42"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != `{"subscription":null}` {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestCurrentSubscriptionRequiresIdentity(t *testing.T) {
	rr := httptest.NewRecorder()
	CurrentSubscription(&mockSubscriptionReader{}, nil).ServeHTTP(rr, billingRequest(""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCurrentSubscriptionRejectsUnsignedIdentity(t *testing.T) {
	reader := &mockSubscriptionReader{sub: &models.Subscription{UserID: "victim"}}
	handler := middleware.Identity(config.CheckoutConfig{DefaultUserID: "default-user", IdentitySecret: "frontend"})(CurrentSubscription(reader, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil)
	req.Header.Set(middleware.HeaderUserID, "victim")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if reader.lastUserID != "" {
		t.Fatalf("store should not be queried, got lookup for %q", reader.lastUserID)
	}
}

func TestCurrentSubscriptionAcceptsSignedIdentity(t *testing.T) {
	reader := &mockSubscriptionReader{sub: &models.Subscription{UserID: "u-42"}}
	handler := middleware.Identity(config.CheckoutConfig{IdentitySecret: "frontend"})(CurrentSubscription(reader, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil)
	req.Header.Set(middleware.HeaderUserID, "u-42")
	req.Header.Set(middleware.HeaderUserSignature, middleware.SignIdentity("frontend", "", "u-42"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || reader.lastUserID != "u-42" {
		t.Fatalf("expected lookup for u-42, got code=%d user=%q", rr.Code, reader.lastUserID)
	}
}
