package cart

import (
	"context"
	"errors"
	"sync"

	"storefront-session/internal/models"
	"storefront-session/internal/upstream"
	"storefront-session/internal/util"

	"go.uber.org/zap"
)

// ErrLineNotFound is returned when no line matches the given key.
var ErrLineNotFound = errors.New("cart line not found")

// MirrorError reports that a mutation was applied locally but the
// upstream mirror rejected it; local state has already been reverted to
// server truth (or kept optimistic if the revert fetch failed too).
type MirrorError struct {
	Err error
}

func (m *MirrorError) Error() string {
	return "cart mirror failed: " + m.Err.Error()
}

func (m *MirrorError) Unwrap() error {
	return m.Err
}

// Snapshot is an immutable view of the cart. Count and Total are
// recomputed from the lines on every state change, never cached.
type Snapshot struct {
	Lines []models.CartLine
	Count int
	Total int64
}

// Change describes a state transition handed to subscribers.
type Change struct {
	Op          string // add, remove, update, patch, clear, revert, refresh
	Fingerprint string
	ServiceID   string
	Quantity    int
	Snapshot    Snapshot
}

// Subscriber receives every cart change. Subscribers are invoked with
// the engine's lock held and must not call back into the engine.
type Subscriber func(Change)

// Engine is the per-session cart state store. Mutations apply locally
// first, then mirror to the upstream cart API; any mirror failure
// (transport error or non-2xx alike) discards the optimistic guess by
// re-fetching the authoritative cart and replacing local state
// wholesale. A nil api means a guest session: local state is
// authoritative and no network calls happen.
type Engine struct {
	mu          sync.Mutex
	lines       []models.CartLine
	justCleared bool
	api         upstream.CartAPI
	subs        []Subscriber
	logger      *zap.Logger
}

// NewEngine creates a cart engine. Pass a nil api for guest sessions.
func NewEngine(api upstream.CartAPI) *Engine {
	return &Engine{
		api:    api,
		logger: util.Named("cart"),
	}
}

// Restore seeds the engine with previously persisted lines without
// notifying subscribers or touching the network.
func (e *Engine) Restore(lines []models.CartLine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines = append([]models.CartLine(nil), lines...)
}

// Subscribe registers a change listener.
func (e *Engine) Subscribe(fn Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

// State returns the current snapshot.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// AddItem merges the item into an existing line with the same
// fingerprint or appends a new line, then mirrors the upsert upstream.
// Adding also re-arms Refresh after a Clear.
func (e *Engine) AddItem(ctx context.Context, item models.CartLine, quantity int) error {
	ctx, span := util.StartSpan(ctx, "cart.AddItem")
	defer span.End()

	if quantity < 1 {
		quantity = 1
	}
	if item.Fingerprint == "" {
		item.Fingerprint = Fingerprint(item.ServiceID, item.PackageVariant, item.Addons)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.justCleared = false

	idx := e.indexByFingerprint(item.Fingerprint)
	var mirrored models.CartLine
	if idx >= 0 {
		e.lines[idx].Quantity += quantity
		mirrored = e.lines[idx]
	} else {
		item.Quantity = quantity
		e.lines = append(e.lines, item)
		mirrored = item
	}

	util.CartMutationsTotal.WithLabelValues("add").Inc()
	e.notifyLocked("add", mirrored.Fingerprint, mirrored.ServiceID, mirrored.Quantity)

	if e.api == nil {
		return nil
	}
	if err := e.api.UpsertItem(ctx, mirrored); err != nil {
		return e.revertLocked(ctx, "add", err)
	}
	return nil
}

// RemoveItem removes the line matching the fingerprint, falling back to
// a raw service-id match for callers that predate fingerprints.
func (e *Engine) RemoveItem(ctx context.Context, key string) error {
	ctx, span := util.StartSpan(ctx, "cart.RemoveItem")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.resolveLocked(key)
	if idx < 0 {
		return ErrLineNotFound
	}
	removed := e.lines[idx]
	e.lines = append(e.lines[:idx], e.lines[idx+1:]...)

	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	e.notifyLocked("remove", removed.Fingerprint, removed.ServiceID, 0)

	if e.api == nil {
		return nil
	}
	if err := e.api.DeleteItem(ctx, removed.Fingerprint); err != nil {
		return e.revertLocked(ctx, "remove", err)
	}
	return nil
}

// UpdateQuantity sets the line's quantity. Values below 1 are a no-op:
// removing the last unit goes through RemoveItem.
func (e *Engine) UpdateQuantity(ctx context.Context, key string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "cart.UpdateQuantity")
	defer span.End()

	if quantity < 1 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.resolveLocked(key)
	if idx < 0 {
		return ErrLineNotFound
	}
	e.lines[idx].Quantity = quantity
	line := e.lines[idx]

	util.CartMutationsTotal.WithLabelValues("update").Inc()
	e.notifyLocked("update", line.Fingerprint, line.ServiceID, quantity)

	if e.api == nil {
		return nil
	}
	patch := models.CartLinePatch{Quantity: &quantity}
	if err := e.api.UpdateItem(ctx, line.Fingerprint, patch); err != nil {
		return e.revertLocked(ctx, "update", err)
	}
	return nil
}

// UpdateFields merges a partial patch into the line, e.g. attaching
// booking details after a slot is chosen.
func (e *Engine) UpdateFields(ctx context.Context, key string, patch models.CartLinePatch) error {
	ctx, span := util.StartSpan(ctx, "cart.UpdateFields")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.resolveLocked(key)
	if idx < 0 {
		return ErrLineNotFound
	}
	line := &e.lines[idx]
	if patch.Title != nil {
		line.Title = *patch.Title
	}
	if patch.Quantity != nil && *patch.Quantity >= 1 {
		line.Quantity = *patch.Quantity
	}
	if patch.Booking != nil {
		line.Booking = patch.Booking
	}

	util.CartMutationsTotal.WithLabelValues("patch").Inc()
	e.notifyLocked("patch", line.Fingerprint, line.ServiceID, line.Quantity)

	if e.api == nil {
		return nil
	}
	if err := e.api.UpdateItem(ctx, line.Fingerprint, patch); err != nil {
		return e.revertLocked(ctx, "patch", err)
	}
	return nil
}

// Clear empties the cart and raises the just-cleared flag so an
// in-flight or auth-triggered Refresh cannot resurrect stale items.
// Only the next AddItem lowers the flag.
func (e *Engine) Clear(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "cart.Clear")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.justCleared = true
	e.lines = nil

	util.CartMutationsTotal.WithLabelValues("clear").Inc()
	e.notifyLocked("clear", "", "", 0)

	if e.api == nil {
		return nil
	}
	if err := e.api.ClearCart(ctx); err != nil {
		return e.revertLocked(ctx, "clear", err)
	}
	return nil
}

// Refresh replaces local state with the authoritative server cart. It
// is skipped for guest sessions and while the just-cleared flag is up.
func (e *Engine) Refresh(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "cart.Refresh")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.api == nil || e.justCleared {
		return nil
	}

	lines, err := e.api.FetchCart(ctx)
	if err != nil {
		return err
	}
	e.lines = lines
	e.notifyLocked("refresh", "", "", 0)
	return nil
}

// revertLocked discards the optimistic state after a failed mirror by
// re-fetching the server cart. A failed revert fetch keeps the
// optimistic guess; the next successful fetch converges.
func (e *Engine) revertLocked(ctx context.Context, op string, cause error) error {
	util.CartRevertsTotal.WithLabelValues(op).Inc()
	e.logger.Warn("cart mirror failed, reverting to server state",
		zap.String("op", op),
		zap.Error(cause))

	lines, err := e.api.FetchCart(ctx)
	if err != nil {
		util.CartRevertFetchFailures.Inc()
		e.logger.Error("revert fetch failed, keeping optimistic state", zap.Error(err))
		return &MirrorError{Err: cause}
	}
	e.lines = lines
	e.notifyLocked("revert", "", "", 0)
	return &MirrorError{Err: cause}
}

func (e *Engine) indexByFingerprint(fingerprint string) int {
	for i := range e.lines {
		if e.lines[i].Fingerprint == fingerprint {
			return i
		}
	}
	return -1
}

// resolveLocked matches by fingerprint first, then by raw service id
// for pre-fingerprint callers.
func (e *Engine) resolveLocked(key string) int {
	if idx := e.indexByFingerprint(key); idx >= 0 {
		return idx
	}
	for i := range e.lines {
		if e.lines[i].ServiceID == key {
			return i
		}
	}
	return -1
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Lines: append([]models.CartLine(nil), e.lines...),
	}
	for _, l := range e.lines {
		snap.Count += l.Quantity
		snap.Total += l.LineTotal()
	}
	return snap
}

func (e *Engine) notifyLocked(op, fingerprint, serviceID string, quantity int) {
	if len(e.subs) == 0 {
		return
	}
	change := Change{
		Op:          op,
		Fingerprint: fingerprint,
		ServiceID:   serviceID,
		Quantity:    quantity,
		Snapshot:    e.snapshotLocked(),
	}
	for _, fn := range e.subs {
		fn(change)
	}
}
