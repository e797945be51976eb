package worker

import (
	"context"
	"encoding/json"
	"time"

	"storefront-session/internal/broker"
	"storefront-session/internal/models"
	"storefront-session/internal/redisclient"
	"storefront-session/internal/store"
	"storefront-session/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActivityWorker consumes activity events from kafka and appends them
// to the postgres journal.
type ActivityWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	logger       *zap.Logger
}

// NewActivityWorker creates a new activity journal worker
func NewActivityWorker(consumer *broker.Consumer, st *store.Store) *ActivityWorker {
	w := &ActivityWorker{
		consumer: consumer,
		store:    st,
		logger:   util.Named("activity-worker"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnActivity(w.journalEvent)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *ActivityWorker) Start(ctx context.Context) error {
	w.logger.Info("starting activity worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ActivityWorker) Stop() error {
	w.logger.Info("stopping activity worker")
	return w.consumer.Close()
}

// activityEnvelope pulls the correlating identifiers out of any event
// payload without caring which concrete event it is.
type activityEnvelope struct {
	SessionKey string `json:"session_key"`
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
}

func (w *ActivityWorker) journalEvent(ctx context.Context, base models.BaseEvent, raw []byte) error {
	var env activityEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.logger.Warn("malformed activity event", zap.String("event_id", base.EventID), zap.Error(err))
		return nil
	}

	rec := &store.ActivityRecord{
		EventID:    base.EventID,
		EventType:  base.EventType,
		SessionKey: env.SessionKey,
		OrderID:    env.OrderID,
		UserID:     env.UserID,
		Payload:    json.RawMessage(raw),
		OccurredAt: base.Timestamp,
	}
	if err := w.store.AppendActivity(ctx, rec); err != nil {
		w.logger.Error("failed to journal activity event",
			zap.String("event_id", base.EventID),
			zap.String("event_type", base.EventType),
			zap.Error(err))
		return err
	}

	util.ActivityEventsJournaled.Inc()
	return nil
}

// DeadlineStore lists and prunes the watched dispute deadlines.
// *redisclient.Client satisfies it.
type DeadlineStore interface {
	WatchedDeadlines(ctx context.Context) ([]redisclient.WatchedDeadline, error)
	UnwatchDeadline(ctx context.Context, orderID string) error
}

// ExpiryPublisher publishes deadline expiry events.
// *broker.EventPublisher satisfies it.
type ExpiryPublisher interface {
	PublishDeadlineExpired(ctx context.Context, event *models.DeadlineExpiredEvent) error
}

// DeadlineWorker sweeps the watched dispute deadlines and publishes an
// expiry event for each one that has passed.
type DeadlineWorker struct {
	deadlines DeadlineStore
	events    ExpiryPublisher
	tick      time.Duration
	stop      chan struct{}
	done      chan struct{}
	logger    *zap.Logger
}

// NewDeadlineWorker creates a new deadline sweep worker
func NewDeadlineWorker(deadlines DeadlineStore, events ExpiryPublisher, tick time.Duration) *DeadlineWorker {
	if tick <= 0 {
		tick = time.Minute
	}
	return &DeadlineWorker{
		deadlines: deadlines,
		events:    events,
		tick:      tick,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    util.Named("deadline-worker"),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is
// called.
func (w *DeadlineWorker) Start(ctx context.Context) error {
	w.logger.Info("starting deadline worker", zap.Duration("tick", w.tick))
	defer close(w.done)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop stops the worker and waits for the current sweep to finish
func (w *DeadlineWorker) Stop() error {
	w.logger.Info("stopping deadline worker")
	close(w.stop)
	<-w.done
	return nil
}

func (w *DeadlineWorker) sweep(ctx context.Context) {
	watched, err := w.deadlines.WatchedDeadlines(ctx)
	if err != nil {
		w.logger.Error("failed to list watched deadlines", zap.Error(err))
		return
	}

	now := time.Now()
	for _, wd := range watched {
		if wd.ExpiresAt.After(now) {
			continue
		}

		event := &models.DeadlineExpiredEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeDeadlineExpired,
				Timestamp: now,
			},
			OrderID:   wd.OrderID,
			DisputeID: wd.DisputeID,
			Deadline:  wd.Kind,
			ExpiredAt: wd.ExpiresAt,
		}
		if err := w.events.PublishDeadlineExpired(ctx, event); err != nil {
			w.logger.Error("failed to publish deadline expiry",
				zap.String("order_id", wd.OrderID), zap.Error(err))
			continue
		}

		util.DeadlineExpiriesTotal.Inc()
		if err := w.deadlines.UnwatchDeadline(ctx, wd.OrderID); err != nil {
			w.logger.Warn("failed to unwatch deadline",
				zap.String("order_id", wd.OrderID), zap.Error(err))
		}
		w.logger.Info("dispute deadline expired",
			zap.String("order_id", wd.OrderID),
			zap.String("dispute_id", wd.DisputeID),
			zap.String("deadline", wd.Kind))
	}
}
