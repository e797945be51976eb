package cart

import (
	"context"
	"sync"
	"time"

	"storefront-session/internal/models"
	"storefront-session/internal/upstream"
	"storefront-session/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session identifies a cart owner. Authenticated sessions carry the raw
// Cookie header to forward upstream; guests carry only a generated key.
type Session struct {
	Key    string
	Cookie string
	Guest  bool
}

// APIFactory hands out session-scoped cart APIs. *upstream.Client
// satisfies it.
type APIFactory interface {
	Cart(sessionCookie string) upstream.CartAPI
}

// GuestCartStore persists guest carts across instance restarts.
// *redisclient.Client satisfies it.
type GuestCartStore interface {
	SaveGuestCart(ctx context.Context, guestID string, lines []models.CartLine, ttl time.Duration) error
	LoadGuestCart(ctx context.Context, guestID string) ([]models.CartLine, error)
}

// ActivityPublisher publishes cart activity events.
// *broker.EventPublisher satisfies it.
type ActivityPublisher interface {
	PublishCartEvent(ctx context.Context, event *models.CartEvent) error
}

// engineEntry guards one session's engine so concurrent first requests
// wait for a single hydration instead of observing a half-built engine.
type engineEntry struct {
	once   sync.Once
	engine *Engine
}

// Manager hands out one engine per session. Guest carts are persisted
// to the store on every change and restored on first access;
// authenticated carts hydrate from the upstream server cart.
type Manager struct {
	mu       sync.Mutex
	engines  map[string]*engineEntry
	upstream APIFactory
	carts    GuestCartStore
	events   ActivityPublisher
	guestTTL time.Duration
	logger   *zap.Logger
}

// NewManager creates a session cart manager. carts and events may be
// nil (no guest persistence / no activity events).
func NewManager(up APIFactory, carts GuestCartStore, events ActivityPublisher, guestTTL time.Duration) *Manager {
	return &Manager{
		engines:  make(map[string]*engineEntry),
		upstream: up,
		carts:    carts,
		events:   events,
		guestTTL: guestTTL,
		logger:   util.Named("cart-manager"),
	}
}

// Engine returns the session's cart engine, creating and hydrating it
// on first access. The engine becomes visible to other callers only
// after hydration and subscription complete.
func (m *Manager) Engine(ctx context.Context, sess Session) *Engine {
	m.mu.Lock()
	entry, ok := m.engines[sess.Key]
	if !ok {
		entry = &engineEntry{}
		m.engines[sess.Key] = entry
	}
	m.mu.Unlock()

	entry.once.Do(func() {
		entry.engine = m.buildEngine(ctx, sess)
	})
	return entry.engine
}

// Forget drops the session's engine, e.g. on logout.
func (m *Manager) Forget(sessionKey string) {
	m.mu.Lock()
	delete(m.engines, sessionKey)
	m.mu.Unlock()
}

func (m *Manager) buildEngine(ctx context.Context, sess Session) *Engine {
	var api upstream.CartAPI
	if !sess.Guest && m.upstream != nil {
		api = m.upstream.Cart(sess.Cookie)
	}
	e := NewEngine(api)

	if sess.Guest && m.carts != nil {
		lines, err := m.carts.LoadGuestCart(ctx, sess.Key)
		switch {
		case err != nil:
			m.logger.Warn("failed to restore guest cart", zap.String("session", sess.Key), zap.Error(err))
		case lines != nil:
			e.Restore(lines)
			util.GuestCartsRestoredTotal.Inc()
		}
	} else if !sess.Guest {
		if err := e.Refresh(ctx); err != nil {
			m.logger.Warn("failed to hydrate cart from server", zap.String("session", sess.Key), zap.Error(err))
		}
	}

	e.Subscribe(m.onChange(sess))
	return e
}

func (m *Manager) onChange(sess Session) Subscriber {
	return func(ch Change) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if sess.Guest && m.carts != nil {
			if err := m.carts.SaveGuestCart(ctx, sess.Key, ch.Snapshot.Lines, m.guestTTL); err != nil {
				m.logger.Warn("failed to persist guest cart", zap.String("session", sess.Key), zap.Error(err))
			}
		}

		eventType := eventTypeForOp(ch.Op)
		if m.events == nil || eventType == "" {
			return
		}
		event := &models.CartEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: eventType,
				Timestamp: time.Now(),
			},
			SessionKey:  sess.Key,
			Guest:       sess.Guest,
			Fingerprint: ch.Fingerprint,
			ServiceID:   ch.ServiceID,
			Quantity:    ch.Quantity,
			CartCount:   ch.Snapshot.Count,
			CartTotal:   ch.Snapshot.Total,
		}
		if err := m.events.PublishCartEvent(ctx, event); err != nil {
			m.logger.Warn("failed to publish cart event", zap.Error(err))
		}
	}
}

func eventTypeForOp(op string) string {
	switch op {
	case "add":
		return models.EventTypeCartItemAdded
	case "remove":
		return models.EventTypeCartItemRemoved
	case "update", "patch":
		return models.EventTypeCartItemUpdated
	case "clear":
		return models.EventTypeCartCleared
	case "revert":
		return models.EventTypeCartReverted
	default:
		return ""
	}
}
