package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/HasithaS001/doclama-sub001/internal/models"
)

const (
	defaultClaimLimit = 10
	maxClaimLimit     = 100
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store provides database-backed accessors for billing data.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertWebhookEvent stores a raw webhook body as an unprocessed event. ID and
// CreatedAt are filled in on the passed event.
func (s *Store) InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	if event == nil {
		return errors.New("store: webhook event cannot be nil")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
INSERT INTO webhook_events (id, event_name, processed, body)
VALUES ($1, $2, false, $3)
RETURNING created_at`,
		event.ID,
		event.EventName,
		[]byte(event.Body),
	).Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert webhook event: %w", err)
	}

	event.Processed = false
	return nil
}

// ClaimWebhookEvents leases up to limit due, unprocessed events, oldest first,
// to workerID and counts the attempt. Events whose lease is older than lease
// become claimable again so a crashed worker does not strand them.
func (s *Store) ClaimWebhookEvents(ctx context.Context, workerID string, limit int, lease time.Duration) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = defaultClaimLimit
	}
	if limit > maxClaimLimit {
		limit = maxClaimLimit
	}

	rows, err := s.db.QueryContext(ctx, `
UPDATE webhook_events
SET claimed_by = $1,
    claimed_at = now(),
    attempts = attempts + 1
WHERE id IN (
	SELECT id FROM webhook_events
	WHERE processed = false
	  AND (next_attempt_at IS NULL OR next_attempt_at <= now())
	  AND (claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $3))
	ORDER BY created_at ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
RETURNING id, created_at, event_name, processed, body, processing_error, attempts`,
		workerID,
		limit,
		lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("store: claim webhook events: %w", err)
	}
	defer rows.Close()

	var events []models.WebhookEvent
	for rows.Next() {
		var (
			event   models.WebhookEvent
			body    []byte
			procErr sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.CreatedAt, &event.EventName, &event.Processed, &body, &procErr, &event.Attempts); err != nil {
			return nil, fmt.Errorf("store: scan webhook event: %w", err)
		}
		event.Body = body
		event.ProcessingError = nullStringPtr(procErr)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate webhook events: %w", err)
	}

	// RETURNING does not preserve the subquery order.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// MarkWebhookEventProcessed records the processing outcome. A nil
// processingErr means the event was handled successfully.
func (s *Store) MarkWebhookEventProcessed(ctx context.Context, id string, processingErr *string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE webhook_events
SET processed = true,
    processing_error = $2,
    claimed_by = NULL,
    claimed_at = NULL
WHERE id = $1`,
		id,
		processingErr,
	)
	if err != nil {
		return fmt.Errorf("store: mark webhook event processed: %w", err)
	}
	return expectOneRow(res, "mark webhook event processed")
}

// ScheduleWebhookEventRetry records a failed attempt and makes the event
// claimable again at retryAt.
func (s *Store) ScheduleWebhookEventRetry(ctx context.Context, id string, processingErr string, retryAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE webhook_events
SET processing_error = $2,
    next_attempt_at = $3,
    claimed_by = NULL,
    claimed_at = NULL
WHERE id = $1 AND processed = false`,
		id,
		processingErr,
		retryAt,
	)
	if err != nil {
		return fmt.Errorf("store: schedule webhook event retry: %w", err)
	}
	return expectOneRow(res, "schedule webhook event retry")
}

// ReleaseWebhookEvent drops the lease on an event so another worker can pick it up.
func (s *Store) ReleaseWebhookEvent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `
UPDATE webhook_events
SET claimed_by = NULL,
    claimed_at = NULL
WHERE id = $1 AND processed = false`, id); err != nil {
		return fmt.Errorf("store: release webhook event: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s: %w", op, ErrNotFound)
	}
	return nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
