package cart

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStorage implements Storage for testing
type memoryStorage struct {
	m       sync.Mutex
	carts   map[string]*domain.Cart
	loadErr error
	saveErr error
	saves   int
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{carts: make(map[string]*domain.Cart)}
}

func (s *memoryStorage) Load(_ context.Context, sessionID string) (*domain.Cart, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	c, ok := s.carts[sessionID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return c.Clone(), nil
}

func (s *memoryStorage) Save(_ context.Context, cart *domain.Cart) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.carts[cart.SessionID] = cart.Clone()
	return nil
}

func (s *memoryStorage) Delete(_ context.Context, sessionID string) error {
	s.m.Lock()
	defer s.m.Unlock()
	delete(s.carts, sessionID)
	return nil
}

func (s *memoryStorage) stored(sessionID string) *domain.Cart {
	s.m.Lock()
	defer s.m.Unlock()
	return s.carts[sessionID]
}

// mockRemote implements RemoteSyncer for testing
type mockRemote struct {
	m      sync.Mutex
	pushed []domain.Cart
	err    error
}

func (r *mockRemote) PushCart(_ context.Context, cart domain.Cart) error {
	r.m.Lock()
	defer r.m.Unlock()
	r.pushed = append(r.pushed, cart)
	return r.err
}

func (r *mockRemote) last() (domain.Cart, int) {
	r.m.Lock()
	defer r.m.Unlock()
	if len(r.pushed) == 0 {
		return domain.Cart{}, 0
	}
	return r.pushed[len(r.pushed)-1], len(r.pushed)
}

func setupStore(t *testing.T, opts ...Option) (*Store, *memoryStorage) {
	storage := newMemoryStorage()
	store, err := Open(context.Background(), "session-1", storage, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, storage
}

func details(price string, stock int) domain.ItemDetails {
	return domain.ItemDetails{Name: "item", UnitPrice: decimal.RequireFromString(price), StockAvailable: stock}
}

func TestAddItem_UpToStockThenRejected(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	d := details("2.50", 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AddItem(ctx, 1, 1, d))
	}

	err := store.AddItem(ctx, 1, 1, d)
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Available)
	assert.Contains(t, err.Error(), "only 3 available")

	snap := store.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 3, snap.Items[0].Quantity)
	assert.True(t, snap.TotalAmount.Equal(decimal.RequireFromString("7.50")))
}

func TestAddItem_NoPartialAdd(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddItem(ctx, 1, 2, details("1", 5)))
	err := store.AddItem(ctx, 1, 4, details("1", 5))
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 2, store.Snapshot().Items[0].Quantity)
}

func TestAddItem_NewLineOverStock(t *testing.T) {
	store, storage := setupStore(t)

	err := store.AddItem(context.Background(), 9, 2, details("1", 1))
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.True(t, store.Snapshot().IsEmpty())
	assert.Nil(t, storage.stored("session-1"))
}

func TestAddItem_InvalidArguments(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.AddItem(ctx, 1, 0, details("1", 3)), ErrInvalidQuantity)
	assert.ErrorIs(t, store.AddItem(ctx, 1, 1, details("-1", 3)), ErrInvalidDetails)
	assert.ErrorIs(t, store.AddItem(ctx, 1, 1, details("1", -1)), ErrInvalidDetails)
}

func TestUpdateItem(t *testing.T) {
	store, storage := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddItem(ctx, 1, 1, details("3", 4)))

	require.NoError(t, store.UpdateItem(ctx, 1, 4))
	assert.Equal(t, 4, store.Snapshot().Items[0].Quantity)
	assert.True(t, store.Snapshot().TotalAmount.Equal(decimal.NewFromInt(12)))

	err := store.UpdateItem(ctx, 1, 5)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 4, store.Snapshot().Items[0].Quantity)
	assert.Equal(t, 4, storage.stored("session-1").Items[0].Quantity)

	assert.ErrorIs(t, store.UpdateItem(ctx, 99, 1), ErrItemNotFound)
}

func TestUpdateItem_ZeroRemoves(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddItem(ctx, 1, 1, details("3", 4)))

	require.NoError(t, store.UpdateItem(ctx, 1, 0))
	assert.True(t, store.Snapshot().IsEmpty())
	assert.True(t, store.Snapshot().TotalAmount.IsZero())

	// removing an absent line through update is still a no-op
	require.NoError(t, store.UpdateItem(ctx, 1, -3))
}

func TestRemoveItem_AbsentIsNoop(t *testing.T) {
	store, storage := setupStore(t)

	require.NoError(t, store.RemoveItem(context.Background(), 42))
	assert.Equal(t, 0, storage.saves)
}

func TestClear_Idempotent(t *testing.T) {
	store, storage := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))

	c := store.Cart()
	assert.Empty(t, c.Items)
	assert.NotNil(t, c.Items)
	assert.True(t, c.TotalPrice.IsZero())
	assert.Empty(t, storage.stored("session-1").Items)
}

func TestMutation_PersistsBeforeReturning(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store, storage := setupStore(t, WithClock(func() time.Time { return now }))

	require.NoError(t, store.AddItem(context.Background(), 5, 2, details("10", 10)))

	stored := storage.stored("session-1")
	require.NotNil(t, stored)
	require.Len(t, stored.Items, 1)
	assert.True(t, stored.TotalPrice.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, now, stored.UpdatedAt)
}

func TestMutation_SaveFailureKeepsLastValidState(t *testing.T) {
	store, storage := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddItem(ctx, 1, 1, details("1", 5)))

	storage.saveErr = errors.New("disk full")
	err := store.AddItem(ctx, 1, 1, details("1", 5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, 1, store.Snapshot().Items[0].Quantity)
	assert.Equal(t, 1, storage.stored("session-1").Items[0].Quantity)
}

func TestOpen_RestoresPersistedCart(t *testing.T) {
	storage := newMemoryStorage()
	c := domain.NewCart("s")
	c.Items = append(c.Items, domain.CartItem{ProductID: 3, UnitPrice: decimal.NewFromInt(7), Quantity: 2, StockAvailable: 2})
	// stored total is ignored and recomputed
	c.TotalPrice = decimal.NewFromInt(999)
	storage.carts["s"] = c

	store, err := Open(context.Background(), "s", storage)
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.Snapshot().TotalAmount.Equal(decimal.NewFromInt(14)))
}

func TestOpen_CorruptCartFallsBackToEmpty(t *testing.T) {
	storage := newMemoryStorage()
	storage.loadErr = ErrCorruptCart

	store, err := Open(context.Background(), "s", storage)
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.Snapshot().IsEmpty())
}

func TestOpen_StorageUnavailable(t *testing.T) {
	storage := newMemoryStorage()
	storage.loadErr = errors.New("connection refused")

	_, err := Open(context.Background(), "s", storage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load cart")
}

func TestSnapshot_IsolatedFromLaterMutations(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddItem(ctx, 1, 1, details("1", 5)))

	snap := store.Snapshot()
	require.NoError(t, store.AddItem(ctx, 1, 2, details("1", 5)))
	require.NoError(t, store.AddItem(ctx, 2, 1, details("1", 5)))

	require.Len(t, snap.Items, 1)
	assert.Equal(t, 1, snap.Items[0].Quantity)
	assert.True(t, snap.TotalAmount.Equal(decimal.NewFromInt(1)))
}

func TestRemoteSync_PushesLatestCart(t *testing.T) {
	remote := &mockRemote{}
	store, _ := setupStore(t, WithRemoteSync(remote, time.Second))
	ctx := context.Background()

	require.NoError(t, store.AddItem(ctx, 1, 1, details("1", 5)))
	require.NoError(t, store.AddItem(ctx, 1, 1, details("1", 5)))

	require.Eventually(t, func() bool {
		last, n := remote.last()
		return n > 0 && len(last.Items) == 1 && last.Items[0].Quantity == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRemoteSync_FailureNeverSurfaces(t *testing.T) {
	remote := &mockRemote{err: errors.New("503 service unavailable")}
	store, storage := setupStore(t, WithRemoteSync(remote, time.Second))

	require.NoError(t, store.AddItem(context.Background(), 1, 1, details("1", 5)))

	require.Eventually(t, func() bool {
		_, n := remote.last()
		return n == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.Snapshot().Items[0].Quantity)
	assert.Equal(t, 1, storage.stored("session-1").Items[0].Quantity)
}

func TestClose_RejectsMutations(t *testing.T) {
	store, _ := setupStore(t, WithRemoteSync(&mockRemote{}, time.Second))

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.AddItem(context.Background(), 1, 1, details("1", 1)), ErrStoreClosed)
}

func TestDestroy_DeletesPersistedCart(t *testing.T) {
	store, storage := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddItem(ctx, 1, 1, details("1", 1)))

	require.NoError(t, store.Destroy(ctx))
	assert.Nil(t, storage.stored("session-1"))
}

func TestConcurrentAdds_NoLostUpdate(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	d := details("1", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.AddItem(ctx, 1, 2, d)
		}()
	}
	wg.Wait()

	snap := store.Snapshot()
	assert.Equal(t, 100, snap.Items[0].Quantity)
	assert.True(t, snap.TotalAmount.Equal(decimal.NewFromInt(100)))
}

func TestRandomMutations_KeepInvariants(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	stock := map[int64]int{1: 3, 2: 0, 3: 10, 4: 1}
	prices := map[int64]decimal.Decimal{
		1: decimal.RequireFromString("0.10"),
		2: decimal.RequireFromString("5"),
		3: decimal.RequireFromString("1.33"),
		4: decimal.RequireFromString("99.99"),
	}

	for i := 0; i < 500; i++ {
		id := int64(rng.Intn(4) + 1)
		before := store.Snapshot()
		var err error
		if rng.Intn(2) == 0 {
			err = store.AddItem(ctx, id, rng.Intn(4)+1, domain.ItemDetails{UnitPrice: prices[id], StockAvailable: stock[id]})
		} else {
			err = store.UpdateItem(ctx, id, rng.Intn(12)-1)
		}
		after := store.Snapshot()

		if err != nil {
			assert.Equal(t, before.Items, after.Items, "rejected mutation changed the cart")
		}
		total := decimal.Zero
		for _, item := range after.Items {
			require.LessOrEqual(t, item.Quantity, item.StockAvailable)
			require.GreaterOrEqual(t, item.Quantity, 1)
			total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		require.True(t, total.Equal(after.TotalAmount), "total drifted: %s != %s", total, after.TotalAmount)
	}
}

func TestRemoveOrdered_KeepsLinesAddedLater(t *testing.T) {
	store, storage := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddItem(ctx, 1, 2, details("1", 5)))
	require.NoError(t, store.AddItem(ctx, 2, 1, details("3", 5)))
	ordered := store.Snapshot().Items

	require.NoError(t, store.AddItem(ctx, 1, 1, details("1", 5)))
	require.NoError(t, store.AddItem(ctx, 3, 4, details("2", 5)))

	require.NoError(t, store.RemoveOrdered(ctx, ordered))

	c := store.Cart()
	require.Len(t, c.Items, 2)
	assert.Equal(t, int64(1), c.Items[0].ProductID)
	assert.Equal(t, 1, c.Items[0].Quantity)
	assert.Equal(t, int64(3), c.Items[1].ProductID)
	assert.True(t, c.TotalPrice.Equal(decimal.NewFromInt(9)))
	assert.Len(t, storage.stored("session-1").Items, 2)
}

func TestRemoveOrdered_UnchangedCartEndsEmpty(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddItem(ctx, 1, 2, details("1", 5)))
	require.NoError(t, store.AddItem(ctx, 2, 1, details("3", 5)))

	require.NoError(t, store.RemoveOrdered(ctx, store.Snapshot().Items))

	c := store.Cart()
	assert.Empty(t, c.Items)
	assert.True(t, c.TotalPrice.IsZero())
}

func TestMutation_StartsFromStoredCart(t *testing.T) {
	storage := newMemoryStorage()
	ctx := context.Background()
	a, err := Open(ctx, "s", storage)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(ctx, "s", storage)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.AddItem(ctx, 1, 1, details("1", 5)))
	require.NoError(t, b.AddItem(ctx, 2, 1, details("1", 5)))
	require.NoError(t, a.AddItem(ctx, 1, 1, details("1", 5)))

	stored := storage.stored("s")
	require.Len(t, stored.Items, 2)
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.Equal(t, int64(2), stored.Items[1].ProductID)
	assert.Len(t, a.Snapshot().Items, 2)
}

func TestMutation_LoadFailureLeavesCartUnchanged(t *testing.T) {
	store, storage := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddItem(ctx, 1, 1, details("1", 5)))

	storage.loadErr = errors.New("connection refused")
	err := store.AddItem(ctx, 1, 1, details("1", 5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load cart")
	assert.Equal(t, 1, store.Snapshot().Items[0].Quantity)
	assert.Equal(t, 1, storage.saves)
}

func TestRefresh_PicksUpStoredCart(t *testing.T) {
	store, storage := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddItem(ctx, 1, 1, details("1", 5)))

	require.NoError(t, storage.Delete(ctx, "session-1"))
	require.NoError(t, store.Refresh(ctx))
	assert.True(t, store.Snapshot().IsEmpty())

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Refresh(ctx), ErrStoreClosed)
}
