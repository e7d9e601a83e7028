// Package worker processes stored webhook events in the background with a
// bounded pool, lease-based claiming, and graceful shutdown handling.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HasithaS001/doclama-sub001/internal/models"
)

// EventStore is the queue the worker drains.
type EventStore interface {
	ClaimWebhookEvents(ctx context.Context, workerID string, limit int, lease time.Duration) ([]models.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, id string, processingErr *string) error
	ReleaseWebhookEvent(ctx context.Context, id string) error
	ScheduleWebhookEventRetry(ctx context.Context, id string, processingErr string, retryAt time.Time) error
}

// storeTimeout bounds bookkeeping writes, which run detached from the worker
// context so shutdown cannot drop an outcome.
const storeTimeout = 5 * time.Second

// Processor handles a single event. A returned error is retried with backoff
// unless it is a PermanentError or the attempts are exhausted, after which it
// is recorded as the event's processing error.
type Processor interface {
	Process(ctx context.Context, event models.WebhookEvent) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, event models.WebhookEvent) error

func (f ProcessorFunc) Process(ctx context.Context, event models.WebhookEvent) error {
	return f(ctx, event)
}

// Stats holds worker statistics
type Stats struct {
	EventsProcessed int64
	EventsSucceeded int64
	EventsFailed    int64
	EventsReleased  int64
	EventsRetried   int64
	ActiveEvents    int
	LastProcessedAt time.Time
}

// Config holds worker configuration
type Config struct {
	// MaxConcurrent is the maximum number of events processed at once
	MaxConcurrent int
	// PollInterval is the time between polls when no notification arrives
	PollInterval time.Duration
	// BatchSize is the number of events claimed per poll
	BatchSize int
	// EventTimeout is the maximum time allowed for one event
	EventTimeout time.Duration
	// ShutdownTimeout is the maximum time to wait for in-flight events during shutdown
	ShutdownTimeout time.Duration
	// MaxAttempts is the number of claims an event gets before a failure is final
	MaxAttempts int
	// RetryBaseDelay is the base delay for exponential backoff
	RetryBaseDelay time.Duration
	// RetryMaxDelay is the maximum delay between retries
	RetryMaxDelay time.Duration
	// RetryBackoffMultiplier is the multiplier for exponential backoff
	RetryBackoffMultiplier float64
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          4,
		PollInterval:           5 * time.Second,
		BatchSize:              10,
		EventTimeout:           30 * time.Second,
		ShutdownTimeout:        30 * time.Second,
		MaxAttempts:            5,
		RetryBaseDelay:         time.Second,
		RetryMaxDelay:          time.Minute,
		RetryBackoffMultiplier: 2.0,
	}
}

// Worker drains unprocessed webhook events.
type Worker struct {
	config    Config
	store     EventStore
	processor Processor
	logger    *zap.Logger

	workerID string
	notifyCh chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
	active  map[string]struct{}

	statsMu         sync.RWMutex
	eventsProcessed int64
	eventsSucceeded int64
	eventsFailed    int64
	eventsReleased  int64
	eventsRetried   int64
	lastProcessedAt time.Time
}

// New creates a new Worker instance
func New(config Config, store EventStore, processor Processor, logger *zap.Logger) *Worker {
	defaults := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.EventTimeout <= 0 {
		config.EventTimeout = defaults.EventTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if config.RetryBackoffMultiplier <= 1 {
		config.RetryBackoffMultiplier = defaults.RetryBackoffMultiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	workerID := "worker-" + uuid.NewString()
	return &Worker{
		config:    config,
		store:     store,
		processor: processor,
		logger:    logger.Named("worker").With(zap.String("worker_id", workerID)),
		workerID:  workerID,
		notifyCh:  make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		active:    make(map[string]struct{}),
	}
}

// Start begins the polling loop. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.logger.Info("starting", zap.Int("max_concurrent", w.config.MaxConcurrent), zap.Duration("poll_interval", w.config.PollInterval))
	go w.run(runCtx)
}

// Notify wakes the worker so a freshly stored event is picked up without
// waiting for the next poll. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}

// Stop gracefully shuts down the worker, waiting up to ShutdownTimeout for
// in-flight events. Events still running at the deadline are cancelled and
// released back to the queue.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	select {
	case <-w.done:
		w.cancel()
		w.logger.Info("graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		w.cancel()
		<-w.done
		w.logger.Warn("shutdown timeout exceeded, in-flight events released")
		return fmt.Errorf("worker: shutdown timeout exceeded")
	}
}

// Stats returns current worker statistics.
func (w *Worker) Stats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	w.mu.Lock()
	active := len(w.active)
	w.mu.Unlock()

	return Stats{
		EventsProcessed: w.eventsProcessed,
		EventsSucceeded: w.eventsSucceeded,
		EventsFailed:    w.eventsFailed,
		EventsReleased:  w.eventsReleased,
		EventsRetried:   w.eventsRetried,
		ActiveEvents:    active,
		LastProcessedAt: w.lastProcessedAt,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		n, err := w.drain(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("failed to claim events", zap.Error(err))
		}
		// A full batch usually means more is waiting.
		if err == nil && n == w.config.BatchSize {
			if w.stopping(ctx) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		case <-w.notifyCh:
		}
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// drain claims one batch and processes it with at most MaxConcurrent
// partitions in flight. Events for the same resource run one after another in
// claim order so an older update cannot land after a newer one. It returns
// the number of events claimed.
func (w *Worker) drain(ctx context.Context) (int, error) {
	lease := 2 * w.config.EventTimeout
	events, err := w.store.ClaimWebhookEvents(ctx, w.workerID, w.config.BatchSize, lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(w.config.MaxConcurrent)
	for _, group := range partition(events) {
		group := group
		g.Go(func() error {
			for _, event := range group {
				w.processEvent(ctx, event)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(events), nil
}

func (w *Worker) processEvent(ctx context.Context, event models.WebhookEvent) {
	start := time.Now()
	log := w.logger.With(zap.String("event_id", event.ID), zap.String("event_name", event.EventName))

	w.track(event.ID)
	defer w.untrack(event.ID)

	eventCtx, cancel := context.WithTimeout(ctx, w.config.EventTimeout)
	defer cancel()

	procErr := w.processor.Process(eventCtx, event)

	storeCtx, storeCancel := context.WithTimeout(context.Background(), storeTimeout)
	defer storeCancel()

	// Shutdown interrupted the event; hand it back instead of recording a failure.
	if procErr != nil && ctx.Err() != nil {
		if err := w.store.ReleaseWebhookEvent(storeCtx, event.ID); err != nil {
			log.Error("failed to release event", zap.Error(err))
		} else {
			log.Info("released event back to queue")
		}
		w.record(func() { w.eventsReleased++ })
		return
	}

	if procErr != nil && !IsPermanent(procErr) && event.Attempts < w.config.MaxAttempts {
		delay := w.retryDelay(event.Attempts)
		log.Warn("event processing failed, retrying",
			zap.Duration("retry_in", delay),
			zap.Int("attempt", event.Attempts),
			zap.Int("max_attempts", w.config.MaxAttempts),
			zap.Error(procErr),
		)
		if err := w.store.ScheduleWebhookEventRetry(storeCtx, event.ID, procErr.Error(), time.Now().Add(delay)); err != nil {
			log.Error("failed to schedule retry", zap.Error(err))
		}
		w.record(func() { w.eventsRetried++ })
		return
	}

	var processingErr *string
	if procErr != nil {
		msg := procErr.Error()
		processingErr = &msg
		log.Warn("event processing failed", zap.Duration("duration", time.Since(start)), zap.Error(procErr))
	} else {
		log.Info("event processed", zap.Duration("duration", time.Since(start)))
	}

	if err := w.store.MarkWebhookEventProcessed(storeCtx, event.ID, processingErr); err != nil {
		log.Error("failed to mark event processed", zap.Error(err))
	}

	w.record(func() {
		w.eventsProcessed++
		if procErr != nil {
			w.eventsFailed++
		} else {
			w.eventsSucceeded++
		}
		w.lastProcessedAt = time.Now()
	})
}

// retryDelay is exponential in the attempt number, capped at RetryMaxDelay,
// with ±20% jitter.
func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(w.config.RetryBaseDelay) * math.Pow(w.config.RetryBackoffMultiplier, float64(attempt-1))
	delay := math.Min(base, float64(w.config.RetryMaxDelay))
	return time.Duration(delay * (0.8 + 0.4*rand.Float64()))
}

// partition groups events by the resource they describe, preserving claim
// order within and across groups.
func partition(events []models.WebhookEvent) [][]models.WebhookEvent {
	index := make(map[string]int, len(events))
	var groups [][]models.WebhookEvent
	for _, event := range events {
		key := partitionKey(event)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], event)
	}
	return groups
}

func partitionKey(event models.WebhookEvent) string {
	var envelope struct {
		Data struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(event.Body, &envelope); err != nil || envelope.Data.ID == "" {
		return "event:" + event.ID
	}
	return envelope.Data.Type + ":" + envelope.Data.ID
}

func (w *Worker) record(update func()) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	update()
}

func (w *Worker) track(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active[id] = struct{}{}
}

func (w *Worker) untrack(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, id)
}
