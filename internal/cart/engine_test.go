package cart

import (
	"context"
	"errors"
	"testing"

	"storefront-session/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCartAPI records mirror calls and can be told to reject them.
type fakeCartAPI struct {
	serverLines []models.CartLine
	failNext    error
	fetchErr    error

	upserts int
	updates int
	deletes int
	clears  int
	fetches int
}

func (f *fakeCartAPI) FetchCart(ctx context.Context) ([]models.CartLine, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]models.CartLine(nil), f.serverLines...), nil
}

func (f *fakeCartAPI) consumeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeCartAPI) UpsertItem(ctx context.Context, line models.CartLine) error {
	f.upserts++
	return f.consumeFailure()
}

func (f *fakeCartAPI) UpdateItem(ctx context.Context, key string, patch models.CartLinePatch) error {
	f.updates++
	return f.consumeFailure()
}

func (f *fakeCartAPI) DeleteItem(ctx context.Context, key string) error {
	f.deletes++
	return f.consumeFailure()
}

func (f *fakeCartAPI) ClearCart(ctx context.Context) error {
	f.clears++
	return f.consumeFailure()
}

func line(serviceID string, price int64) models.CartLine {
	return models.CartLine{
		ServiceID: serviceID,
		Title:     "Service " + serviceID,
		UnitPrice: price,
	}
}

func TestAddItemMergesIdenticalConfiguration(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 1))
	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 2))

	snap := engine.State()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 3, snap.Lines[0].Quantity)
	assert.Equal(t, 3, snap.Count)
	assert.Equal(t, int64(6000), snap.Total)
}

func TestAddItemKeepsDistinctConfigurationsApart(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	withAddon := line("svc-1", 2000)
	withAddon.Addons = []models.Addon{{ID: "addon-a", Price: 500}}

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 1))
	require.NoError(t, engine.AddItem(ctx, withAddon, 1))
	require.NoError(t, engine.AddItem(ctx, line("svc-2", 1000), 1))

	snap := engine.State()
	assert.Len(t, snap.Lines, 3)
	assert.Equal(t, 3, snap.Count)
	// 2000 + (2000+500) + 1000
	assert.Equal(t, int64(5500), snap.Total)
}

func TestTotalIncludesAddonsPerUnit(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	item := line("svc-1", 2000)
	item.Addons = []models.Addon{{ID: "addon-a", Price: 500}, {ID: "addon-b", Price: 250}}
	require.NoError(t, engine.AddItem(ctx, item, 3))

	snap := engine.State()
	assert.Equal(t, int64((2000+500+250)*3), snap.Total)
}

func TestAddItemQuantityFloor(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 0))

	snap := engine.State()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 1, snap.Lines[0].Quantity)
}

func TestUpdateQuantityBelowOneIsNoOp(t *testing.T) {
	api := &fakeCartAPI{}
	engine := NewEngine(api)
	ctx := context.Background()

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 2))
	fp := engine.State().Lines[0].Fingerprint

	require.NoError(t, engine.UpdateQuantity(ctx, fp, 0))
	assert.Equal(t, 2, engine.State().Lines[0].Quantity)
	assert.Equal(t, 0, api.updates)
}

func TestRemoveItemFallsBackToServiceID(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 1))
	require.NoError(t, engine.RemoveItem(ctx, "svc-1"))
	assert.Empty(t, engine.State().Lines)
}

func TestRemoveUnknownLine(t *testing.T) {
	engine := NewEngine(nil)

	err := engine.RemoveItem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestMirrorRejectionRevertsToServerState(t *testing.T) {
	api := &fakeCartAPI{
		serverLines: []models.CartLine{
			{Fingerprint: "fp-server", ServiceID: "svc-9", UnitPrice: 1500, Quantity: 1},
		},
		failNext: errors.New("quantity exceeds stock"),
	}
	engine := NewEngine(api)
	ctx := context.Background()

	err := engine.AddItem(ctx, line("svc-1", 2000), 5)

	var mirrorErr *MirrorError
	require.ErrorAs(t, err, &mirrorErr)

	// Local state converged on the server payload, not the optimistic guess
	snap := engine.State()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "svc-9", snap.Lines[0].ServiceID)
	assert.Equal(t, int64(1500), snap.Total)
	assert.Equal(t, 1, api.fetches)
}

func TestMirrorRejectionWithFailedRevertKeepsOptimisticState(t *testing.T) {
	api := &fakeCartAPI{
		failNext: errors.New("server rejected"),
		fetchErr: errors.New("server unreachable"),
	}
	engine := NewEngine(api)
	ctx := context.Background()

	err := engine.AddItem(ctx, line("svc-1", 2000), 1)

	var mirrorErr *MirrorError
	require.ErrorAs(t, err, &mirrorErr)
	assert.EqualError(t, mirrorErr.Err, "server rejected")

	// The optimistic line survives until the next successful fetch
	snap := engine.State()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "svc-1", snap.Lines[0].ServiceID)
}

func TestClearSuppressesRefresh(t *testing.T) {
	api := &fakeCartAPI{
		serverLines: []models.CartLine{
			{Fingerprint: "fp-server", ServiceID: "svc-9", UnitPrice: 1500, Quantity: 2},
		},
	}
	engine := NewEngine(api)
	ctx := context.Background()

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 1))
	require.NoError(t, engine.Clear(ctx))

	// A refresh right after clearing must not resurrect server items
	require.NoError(t, engine.Refresh(ctx))
	assert.Empty(t, engine.State().Lines)

	// The next add lowers the flag; refresh works again
	require.NoError(t, engine.AddItem(ctx, line("svc-2", 1000), 1))
	require.NoError(t, engine.Refresh(ctx))

	snap := engine.State()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "svc-9", snap.Lines[0].ServiceID)
}

func TestGuestEngineNeverTouchesNetwork(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 1))
	require.NoError(t, engine.UpdateQuantity(ctx, engine.State().Lines[0].Fingerprint, 4))
	require.NoError(t, engine.Clear(ctx))
	require.NoError(t, engine.Refresh(ctx))
	assert.Empty(t, engine.State().Lines)
}

func TestUpdateFieldsMergesPatch(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 1))
	fp := engine.State().Lines[0].Fingerprint

	booking := &models.Booking{Date: "2026-09-01", Time: "10:00"}
	title := "Deep clean"
	require.NoError(t, engine.UpdateFields(ctx, fp, models.CartLinePatch{
		Title:   &title,
		Booking: booking,
	}))

	got := engine.State().Lines[0]
	assert.Equal(t, "Deep clean", got.Title)
	require.NotNil(t, got.Booking)
	assert.Equal(t, "2026-09-01", got.Booking.Date)
	// Untouched fields survive the patch
	assert.Equal(t, int64(2000), got.UnitPrice)
	assert.Equal(t, 1, got.Quantity)
}

func TestUpdateFieldsKeepsFingerprintStable(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	item := line("svc-1", 2000)
	item.PackageVariant = "basic"
	require.NoError(t, engine.AddItem(ctx, item, 1))
	fp := engine.State().Lines[0].Fingerprint

	title := "Deep clean"
	qty := 2
	require.NoError(t, engine.UpdateFields(ctx, fp, models.CartLinePatch{
		Title:    &title,
		Quantity: &qty,
		Booking:  &models.Booking{Date: "2026-09-01", Time: "10:00"},
	}))

	// Patching never changes the line's configuration identity
	got := engine.State().Lines[0]
	assert.Equal(t, fp, got.Fingerprint)
	assert.Equal(t, "basic", got.PackageVariant)
	assert.Equal(t, fp, Fingerprint(got.ServiceID, got.PackageVariant, got.Addons))
}

func TestSubscriberSeesEveryChange(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	var ops []string
	engine.Subscribe(func(ch Change) { ops = append(ops, ch.Op) })

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 1))
	require.NoError(t, engine.UpdateQuantity(ctx, engine.State().Lines[0].Fingerprint, 2))
	require.NoError(t, engine.Clear(ctx))

	assert.Equal(t, []string{"add", "update", "clear"}, ops)
}

func TestSnapshotIsRecomputedNotCached(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()

	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 1))
	first := engine.State()
	require.NoError(t, engine.AddItem(ctx, line("svc-1", 2000), 1))
	second := engine.State()

	assert.Equal(t, int64(2000), first.Total)
	assert.Equal(t, int64(4000), second.Total)
	assert.Equal(t, 1, first.Count)
	assert.Equal(t, 2, second.Count)
}
