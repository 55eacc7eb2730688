package cart

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/walamarket/internal/inventory"
	"github.com/angelmondragon/walamarket/internal/reservations"
	"github.com/angelmondragon/walamarket/pkg/db/models"
	"github.com/angelmondragon/walamarket/pkg/enums"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
)

func TestAddReservesAndAppends(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seed("lamp", "10.00")

	res, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)
	assert.True(t, res.Added)

	ids, err := h.svc.Items(ctx, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{p.ID}, ids)

	state, err := h.repo.GetReservationState(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-a", state.Holder)
}

func TestAddRejectedLeavesCartUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seed("lamp", "10.00")

	_, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)

	res, err := h.svc.Add(ctx, "sess-b", p.ID)
	require.NoError(t, err)
	assert.False(t, res.Added)
	assert.Equal(t, enums.ProductStateReserved, res.Reason)

	ids, err := h.svc.Items(ctx, "sess-b")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAddReportsTerminalReasons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deleted := h.seed("chair", "5.00")
	_, err := h.repo.SoftDelete(ctx, deleted.ID, "owner")
	require.NoError(t, err)

	res, err := h.svc.Add(ctx, "sess-a", deleted.ID)
	require.NoError(t, err)
	assert.Equal(t, AddResult{Reason: enums.ProductStateDeleted}, res)

	res, err = h.svc.Add(ctx, "sess-a", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, AddResult{Reason: enums.ProductStateMissing}, res)

	sold := h.seed("desk", "8.00")
	_, err = h.svc.Add(ctx, "sess-b", sold.ID)
	require.NoError(t, err)
	_, err = h.repo.CommitSale(ctx, inventory.CommitRequest{
		BuyerID: uuid.New(), SessionID: "sess-b", ProductIDs: []uuid.UUID{sold.ID}, AsOf: h.clock.Now(),
	})
	require.NoError(t, err)

	res, err = h.svc.Add(ctx, "sess-a", sold.ID)
	require.NoError(t, err)
	assert.Equal(t, AddResult{Reason: enums.ProductStateSold}, res)
}

func TestAddIsIdempotentForHeldItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seed("lamp", "10.00")

	_, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)
	before, err := h.repo.GetReservationState(ctx, p.ID)
	require.NoError(t, err)

	h.clock.advance(time.Minute)
	res, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)
	assert.True(t, res.Added)

	after, err := h.repo.GetReservationState(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, before.Expiry.Equal(*after.Expiry), "a held item is not re-reserved")

	ids, err := h.svc.Items(ctx, "sess-a")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestAddReacquiresLapsedHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seed("lamp", "10.00")

	_, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)
	h.clock.advance(20 * time.Minute)
	released, err := h.engine.ReleaseExpired(ctx, p.ID, h.clock.Now())
	require.NoError(t, err)
	require.True(t, released)

	res, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)
	assert.True(t, res.Added)

	valid, err := h.engine.IsValidHoldFor(ctx, p.ID, "sess-a", h.clock.Now())
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestAddReleasesHoldWhenCartWriteFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seed("lamp", "10.00")
	h.store.addErr = errors.New("redis down")

	_, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	state, err := h.repo.GetReservationState(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, state.Reserved)
}

func TestRemoveReleasesRegardlessOfMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seed("lamp", "10.00")

	_, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)

	require.NoError(t, h.svc.Remove(ctx, "sess-a", p.ID))
	require.NoError(t, h.svc.Remove(ctx, "sess-a", p.ID))

	state, err := h.repo.GetReservationState(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, state.Reserved)
	ids, err := h.svc.Items(ctx, "sess-a")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRemoveDoesNotDropAnotherSessionsHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seed("lamp", "10.00")

	_, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)

	require.NoError(t, h.svc.Remove(ctx, "sess-b", p.ID))

	state, err := h.repo.GetReservationState(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-a", state.Holder)
}

func TestEndSessionTwiceMatchesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.seed("lamp", "10.00")
	p2 := h.seed("vase", "3.00")
	for _, p := range []models.Product{p1, p2} {
		_, err := h.svc.Add(ctx, "sess-a", p.ID)
		require.NoError(t, err)
	}

	require.NoError(t, h.svc.EndSession(ctx, "sess-a"))
	once := h.snapshot(p1.ID, p2.ID)

	require.NoError(t, h.svc.EndSession(ctx, "sess-a"))
	twice := h.snapshot(p1.ID, p2.ID)

	assert.Equal(t, once, twice)
	for _, state := range twice {
		assert.Equal(t, enums.ProductStateAvailable, state.State())
	}
	ids, err := h.svc.Items(ctx, "sess-a")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestClearLeavesSoldItemsSold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seed("lamp", "10.00")
	_, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)
	_, err = h.repo.CommitSale(ctx, inventory.CommitRequest{
		BuyerID: uuid.New(), SessionID: "sess-a", ProductIDs: []uuid.UUID{p.ID}, AsOf: h.clock.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.Clear(ctx, "sess-a"))

	state, err := h.repo.GetReservationState(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, state.Sold())
}

func TestClearKeepsCartWhenReleaseFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seed("lamp", "10.00")
	_, err := h.svc.Add(ctx, "sess-a", p.ID)
	require.NoError(t, err)

	failing, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Store:    h.store,
		Engine:   failingEngine{err: errors.New("db down")},
		Products: h.repo,
	})
	require.NoError(t, err)

	require.Error(t, failing.Clear(ctx, "sess-a"))
	ids, err := h.svc.Items(ctx, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{p.ID}, ids)
}

func TestSummaryKeepsCartOrderAndSkipsVanishedProducts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.seed("lamp", "10.00")
	second := h.seed("vase", "2.50")
	_, err := h.svc.Add(ctx, "sess-a", first.ID)
	require.NoError(t, err)
	h.clock.advance(time.Second)
	_, err = h.svc.Add(ctx, "sess-a", second.ID)
	require.NoError(t, err)
	require.NoError(t, h.store.Add(ctx, "sess-a", uuid.New(), h.clock.Now().Add(time.Second)))

	summary, err := h.svc.Summary(ctx, "sess-a")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Count)
	assert.Equal(t, first.ID, summary.Products[0].ID)
	assert.Equal(t, second.ID, summary.Products[1].ID)
	assert.True(t, summary.Total.Equal(decimal.RequireFromString("12.50")))
}

func TestOperationsRequireSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Add(ctx, " ", uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.True(t, pkgerrors.IsCode(h.svc.Clear(ctx, ""), pkgerrors.CodeValidation))
	_, err = h.svc.Add(ctx, "sess-a", uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}

type harness struct {
	t      *testing.T
	svc    Service
	repo   *inventory.Repository
	engine *reservations.Engine
	store  *memoryStore
	clock  *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := inventory.NewRepository(newTestDB(t))
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine, err := reservations.NewEngine(reservations.EngineParams{
		Logger:     testLogger(),
		Store:      repo,
		DefaultTTL: 15 * time.Minute,
		Clock:      clock.Now,
	})
	require.NoError(t, err)
	store := newMemoryStore()
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Store:    store,
		Engine:   engine,
		Products: repo,
	})
	require.NoError(t, err)
	return &harness{t: t, svc: svc, repo: repo, engine: engine, store: store, clock: clock}
}

func (h *harness) seed(name, price string) models.Product {
	h.t.Helper()
	p := models.Product{OwnerID: uuid.New(), Name: name, Price: decimal.RequireFromString(price)}
	require.NoError(h.t, h.repo.CreateProduct(context.Background(), &p))
	return p
}

func (h *harness) snapshot(ids ...uuid.UUID) []inventory.ReservationState {
	h.t.Helper()
	out := make([]inventory.ReservationState, 0, len(ids))
	for _, id := range ids {
		state, err := h.repo.GetReservationState(context.Background(), id)
		require.NoError(h.t, err)
		out = append(out, *state)
	}
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.Sale{}, &models.Product{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryStore struct {
	mu     sync.Mutex
	carts  map[string]map[uuid.UUID]time.Time
	addErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{carts: map[string]map[uuid.UUID]time.Time{}}
}

func (m *memoryStore) Add(_ context.Context, sessionID string, productID uuid.UUID, addedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	cart, ok := m.carts[sessionID]
	if !ok {
		cart = map[uuid.UUID]time.Time{}
		m.carts[sessionID] = cart
	}
	if _, exists := cart[productID]; !exists {
		cart[productID] = addedAt
	}
	return nil
}

func (m *memoryStore) Remove(_ context.Context, sessionID string, productID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts[sessionID], productID)
	return nil
}

func (m *memoryStore) Members(_ context.Context, sessionID string) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := m.carts[sessionID]
	ids := make([]uuid.UUID, 0, len(cart))
	for id := range cart {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return cart[ids[i]].Before(cart[ids[j]]) })
	return ids, nil
}

func (m *memoryStore) Contains(_ context.Context, sessionID string, productID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.carts[sessionID][productID]
	return ok, nil
}

func (m *memoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
	return nil
}

type failingEngine struct {
	err error
}

func (f failingEngine) Reserve(context.Context, uuid.UUID, string, time.Duration) (bool, error) {
	return false, f.err
}

func (f failingEngine) ReleaseHeld(context.Context, uuid.UUID, string) (bool, error) {
	return false, f.err
}

func (f failingEngine) IsValidHoldFor(context.Context, uuid.UUID, string, time.Time) (bool, error) {
	return false, f.err
}

func (f failingEngine) State(context.Context, uuid.UUID) (enums.ProductState, error) {
	return "", f.err
}

func (f failingEngine) Now() time.Time {
	return time.Now().UTC()
}
