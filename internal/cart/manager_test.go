package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront-session/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGuestStore keeps guest carts in memory and counts accesses.
type fakeGuestStore struct {
	mu    sync.Mutex
	carts map[string][]models.CartLine
	saves int
	loads int
}

func newFakeGuestStore() *fakeGuestStore {
	return &fakeGuestStore{carts: make(map[string][]models.CartLine)}
}

func (f *fakeGuestStore) SaveGuestCart(ctx context.Context, guestID string, lines []models.CartLine, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.carts[guestID] = append([]models.CartLine(nil), lines...)
	return nil
}

func (f *fakeGuestStore) LoadGuestCart(ctx context.Context, guestID string) ([]models.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	lines, ok := f.carts[guestID]
	if !ok {
		return nil, nil
	}
	return append([]models.CartLine(nil), lines...), nil
}

// fakeCartPublisher records published cart events.
type fakeCartPublisher struct {
	mu     sync.Mutex
	events []*models.CartEvent
}

func (f *fakeCartPublisher) PublishCartEvent(ctx context.Context, event *models.CartEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeCartPublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.events))
	for i, e := range f.events {
		types[i] = e.EventType
	}
	return types
}

func guestSession(key string) Session {
	return Session{Key: key, Guest: true}
}

func TestGuestCartRoundTripsThroughStore(t *testing.T) {
	store := newFakeGuestStore()
	ctx := context.Background()

	item := models.CartLine{
		ServiceID: "svc-1",
		Title:     "Deep clean",
		UnitPrice: 2000,
		Addons:    []models.Addon{{ID: "addon-a", Price: 500}},
		Booking:   &models.Booking{Date: "2026-09-01", Time: "10:00"},
	}

	manager := NewManager(nil, store, nil, time.Hour)
	engine := manager.Engine(ctx, guestSession("guest:abc"))
	require.NoError(t, engine.AddItem(ctx, item, 2))
	want := engine.State().Lines

	// A fresh manager sharing the store restores the cart unchanged
	restored := NewManager(nil, store, nil, time.Hour).Engine(ctx, guestSession("guest:abc"))
	assert.Equal(t, want, restored.State().Lines)
	assert.Equal(t, int64((2000+500)*2), restored.State().Total)
}

func TestGuestChangesPersistAndPublish(t *testing.T) {
	store := newFakeGuestStore()
	pub := &fakeCartPublisher{}
	ctx := context.Background()

	manager := NewManager(nil, store, pub, time.Hour)
	engine := manager.Engine(ctx, guestSession("guest:abc"))

	require.NoError(t, engine.AddItem(ctx, models.CartLine{ServiceID: "svc-1", UnitPrice: 2000}, 1))
	fp := engine.State().Lines[0].Fingerprint
	require.NoError(t, engine.UpdateQuantity(ctx, fp, 3))
	require.NoError(t, engine.Clear(ctx))

	assert.Equal(t, 3, store.saves)
	assert.Empty(t, store.carts["guest:abc"], "store converged on the cleared cart")
	assert.Equal(t, []string{
		models.EventTypeCartItemAdded,
		models.EventTypeCartItemUpdated,
		models.EventTypeCartCleared,
	}, pub.types())
}

func TestConcurrentFirstAccessSharesOneEngine(t *testing.T) {
	store := newFakeGuestStore()
	store.carts["guest:abc"] = []models.CartLine{
		{Fingerprint: "fp-1", ServiceID: "svc-1", UnitPrice: 2000, Quantity: 1},
	}
	manager := NewManager(nil, store, nil, time.Hour)

	const callers = 8
	engines := make([]*Engine, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engines[i] = manager.Engine(context.Background(), guestSession("guest:abc"))
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, engines[0], engines[i])
	}
	assert.Equal(t, 1, store.loads, "cart restored exactly once")
	assert.Equal(t, 1, engines[0].State().Count, "every caller sees the hydrated cart")
}

func TestForgetDropsEngine(t *testing.T) {
	store := newFakeGuestStore()
	manager := NewManager(nil, store, nil, time.Hour)
	ctx := context.Background()

	first := manager.Engine(ctx, guestSession("guest:abc"))
	manager.Forget("guest:abc")
	second := manager.Engine(ctx, guestSession("guest:abc"))
	assert.NotSame(t, first, second)
}
