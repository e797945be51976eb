package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront-session/internal/models"
	"storefront-session/internal/redisclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeadlineStore serves a fixed watched set and records prunes.
type fakeDeadlineStore struct {
	watched   []redisclient.WatchedDeadline
	unwatched []string
}

func (f *fakeDeadlineStore) WatchedDeadlines(ctx context.Context) ([]redisclient.WatchedDeadline, error) {
	return f.watched, nil
}

func (f *fakeDeadlineStore) UnwatchDeadline(ctx context.Context, orderID string) error {
	f.unwatched = append(f.unwatched, orderID)
	return nil
}

// fakeExpiryPublisher records published expiry events.
type fakeExpiryPublisher struct {
	events []*models.DeadlineExpiredEvent
	err    error
}

func (f *fakeExpiryPublisher) PublishDeadlineExpired(ctx context.Context, event *models.DeadlineExpiredEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func TestSweepPublishesExpiredDeadlines(t *testing.T) {
	store := &fakeDeadlineStore{
		watched: []redisclient.WatchedDeadline{
			{OrderID: "order-1", DisputeID: "disp-1", Kind: "negotiation", ExpiresAt: time.Now().Add(-time.Minute)},
			{OrderID: "order-2", DisputeID: "disp-2", Kind: "response", ExpiresAt: time.Now().Add(time.Hour)},
		},
	}
	pub := &fakeExpiryPublisher{}
	w := NewDeadlineWorker(store, pub, time.Minute)

	w.sweep(context.Background())

	require.Len(t, pub.events, 1)
	event := pub.events[0]
	assert.Equal(t, models.EventTypeDeadlineExpired, event.EventType)
	assert.Equal(t, "order-1", event.OrderID)
	assert.Equal(t, "disp-1", event.DisputeID)
	assert.Equal(t, "negotiation", event.Deadline)
	assert.NotEmpty(t, event.EventID)

	// Only the expired entry is pruned; the future one stays watched
	assert.Equal(t, []string{"order-1"}, store.unwatched)
}

func TestSweepKeepsDeadlineWhenPublishFails(t *testing.T) {
	store := &fakeDeadlineStore{
		watched: []redisclient.WatchedDeadline{
			{OrderID: "order-1", DisputeID: "disp-1", Kind: "response", ExpiresAt: time.Now().Add(-time.Minute)},
		},
	}
	pub := &fakeExpiryPublisher{err: errors.New("kafka unavailable")}
	w := NewDeadlineWorker(store, pub, time.Minute)

	w.sweep(context.Background())

	// An unpublished expiry stays watched so the next sweep retries
	assert.Empty(t, store.unwatched)
}

func TestSweepWithNothingExpired(t *testing.T) {
	store := &fakeDeadlineStore{
		watched: []redisclient.WatchedDeadline{
			{OrderID: "order-1", DisputeID: "disp-1", Kind: "response", ExpiresAt: time.Now().Add(time.Hour)},
		},
	}
	pub := &fakeExpiryPublisher{}
	w := NewDeadlineWorker(store, pub, time.Minute)

	w.sweep(context.Background())

	assert.Empty(t, pub.events)
	assert.Empty(t, store.unwatched)
}
