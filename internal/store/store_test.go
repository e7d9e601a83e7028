package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/HasithaS001/doclama-sub001/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &Store{db: db}, mock
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error when db is nil")
	}
}

func TestInsertWebhookEvent(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WithArgs(sqlmock.AnyArg(), "subscription_created", []byte(`{"meta":{}}`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	event := &models.WebhookEvent{EventName: "subscription_created", Body: []byte(`{"meta":{}}`)}
	if err := s.InsertWebhookEvent(context.Background(), event); err != nil {
		t.Fatalf("InsertWebhookEvent returned error: %v", err)
	}

	if event.ID == "" {
		t.Fatal("expected generated id")
	}
	if !event.CreatedAt.Equal(created) {
		t.Fatalf("unexpected created_at: %v", event.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertWebhookEventError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_events`)).WillReturnError(errors.New("boom"))

	err := s.InsertWebhookEvent(context.Background(), &models.WebhookEvent{ID: "fixed", EventName: "x", Body: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected error when insert fails")
	}
}

func TestClaimWebhookEventsOrdersByCreation(t *testing.T) {
	s, mock := newMockStore(t)
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	rows := sqlmock.NewRows([]string{"id", "created_at", "event_name", "processed", "body", "processing_error", "attempts"}).
		AddRow("b", newer, "subscription_updated", false, []byte(`{}`), nil, 1).
		AddRow("a", older, "subscription_created", false, []byte(`{}`), "previous failure", 2)

	mock.ExpectQuery(`UPDATE webhook_events\s+SET claimed_by = \$1,\s+claimed_at = now\(\),\s+attempts = attempts \+ 1`).
		WithArgs("worker-1", 5, float64(60)).
		WillReturnRows(rows)

	events, err := s.ClaimWebhookEvents(context.Background(), "worker-1", 5, time.Minute)
	if err != nil {
		t.Fatalf("ClaimWebhookEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != "a" || events[1].ID != "b" {
		t.Fatalf("expected oldest first, got %s then %s", events[0].ID, events[1].ID)
	}
	if events[0].ProcessingError == nil || *events[0].ProcessingError != "previous failure" {
		t.Fatalf("unexpected processing error: %v", events[0].ProcessingError)
	}
	if events[1].ProcessingError != nil {
		t.Fatal("expected nil processing error")
	}
	if events[0].Attempts != 2 || events[1].Attempts != 1 {
		t.Fatalf("unexpected attempts: %d, %d", events[0].Attempts, events[1].Attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimWebhookEventsClampsLimit(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE webhook_events`).
		WithArgs("w", maxClaimLimit, float64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "event_name", "processed", "body", "processing_error", "attempts"}))

	events, err := s.ClaimWebhookEvents(context.Background(), "w", 1000, 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimWebhookEvents returned error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestMarkWebhookEventProcessed(t *testing.T) {
	s, mock := newMockStore(t)
	msg := "missing custom data user_id"

	mock.ExpectExec(`UPDATE webhook_events\s+SET processed = true`).
		WithArgs("evt-1", &msg).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkWebhookEventProcessed(context.Background(), "evt-1", &msg); err != nil {
		t.Fatalf("MarkWebhookEventProcessed returned error: %v", err)
	}
}

func TestMarkWebhookEventProcessedMissingRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE webhook_events\s+SET processed = true`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkWebhookEventProcessed(context.Background(), "nope", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReleaseWebhookEvent(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE webhook_events\s+SET claimed_by = NULL`).
		WithArgs("evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ReleaseWebhookEvent(context.Background(), "evt-1"); err != nil {
		t.Fatalf("ReleaseWebhookEvent returned error: %v", err)
	}
}

func TestUpsertSubscription(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	renews := now.Add(30 * 24 * time.Hour)

	sub := &models.Subscription{
		LemonSqueezyID:     "1001",
		OrderID:            3,
		Name:               "Ada",
		Email:              "ada@example.com",
		Status:             "active",
		StatusFormatted:    "Active",
		RenewsAt:           &renews,
		Price:              "999",
		SubscriptionItemID: 9,
		UserID:             "u-42",
		PlanID:             "758320",
		ProviderUpdatedAt:  &now,
	}

	mock.ExpectQuery(`INSERT INTO subscriptions`).
		WithArgs("1001", int64(3), "Ada", "ada@example.com", "active", "Active",
			&renews, sqlmock.AnyArg(), sqlmock.AnyArg(), "999", false, false, int64(9), "u-42", "758320", &now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(12), now, now))

	if err := s.UpsertSubscription(context.Background(), sub); err != nil {
		t.Fatalf("UpsertSubscription returned error: %v", err)
	}
	if sub.ID != 12 {
		t.Fatalf("expected id 12, got %d", sub.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetSubscriptionByUserIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM subscriptions\s+WHERE user_id = \$1`).
		WithArgs("u-1").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetSubscriptionByUserID(context.Background(), "u-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSubscriptionByUserID(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "lemon_squeezy_id", "order_id", "name", "email", "status", "status_formatted",
		"renews_at", "ends_at", "trial_ends_at", "price", "is_usage_based", "is_paused",
		"subscription_item_id", "user_id", "plan_id", "created_at", "updated_at",
	}).AddRow(int64(1), "1001", int64(3), "Ada", "ada@example.com", "active", "Active",
		now, nil, nil, "999", false, true, int64(9), "u-42", "758320", now, now)

	mock.ExpectQuery(`FROM subscriptions`).WithArgs("u-42").WillReturnRows(rows)

	sub, err := s.GetSubscriptionByUserID(context.Background(), "u-42")
	if err != nil {
		t.Fatalf("GetSubscriptionByUserID returned error: %v", err)
	}
	if sub.LemonSqueezyID != "1001" || !sub.IsPaused {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if sub.RenewsAt == nil || sub.EndsAt != nil {
		t.Fatalf("unexpected timestamps: renews=%v ends=%v", sub.RenewsAt, sub.EndsAt)
	}
}

func TestUpsertSubscriptionStaleUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`ON CONFLICT \(lemon_squeezy_id\) DO UPDATE SET[\s\S]+WHERE subscriptions.provider_updated_at IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))

	err := s.UpsertSubscription(context.Background(), &models.Subscription{LemonSqueezyID: "1001", Status: "active", ProviderUpdatedAt: &older})
	if !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected ErrStaleUpdate, got %v", err)
	}
}

func TestScheduleWebhookEventRetry(t *testing.T) {
	s, mock := newMockStore(t)
	retryAt := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE webhook_events\s+SET processing_error = \$2,\s+next_attempt_at = \$3`).
		WithArgs("evt-1", "get price: 502", retryAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ScheduleWebhookEventRetry(context.Background(), "evt-1", "get price: 502", retryAt); err != nil {
		t.Fatalf("ScheduleWebhookEventRetry returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
