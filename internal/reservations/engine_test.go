package reservations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/walamarket/internal/inventory"
	"github.com/angelmondragon/walamarket/pkg/db/models"
	"github.com/angelmondragon/walamarket/pkg/enums"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
	"github.com/angelmondragon/walamarket/pkg/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestConcurrentReserveHasExactlyOneWinner(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	product := seedProduct(t, repo)

	const sessions = 16
	var wins atomic.Int32
	var losses atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ok, err := engine.Reserve(context.Background(), product.ID, fmt.Sprintf("sess-%d", i), 0)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			} else {
				losses.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, sessions-1, losses.Load())
}

func TestReserveUsesDefaultTTL(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	product := seedProduct(t, repo)

	ok, err := engine.Reserve(context.Background(), product.ID, "sess-a", 0)
	require.NoError(t, err)
	require.True(t, ok)

	state, err := repo.GetReservationState(context.Background(), product.ID)
	require.NoError(t, err)
	require.NotNil(t, state.Expiry)
	assert.True(t, state.Expiry.Equal(t0.Add(15*time.Minute)))
}

func TestReleaseTwiceMatchesReleaseOnce(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()
	product := seedProduct(t, repo)

	_, err := engine.Reserve(ctx, product.ID, "sess-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, engine.Release(ctx, product.ID))
	once, err := repo.GetReservationState(ctx, product.ID)
	require.NoError(t, err)

	require.NoError(t, engine.Release(ctx, product.ID))
	twice, err := repo.GetReservationState(ctx, product.ID)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, enums.ProductStateAvailable, twice.State())
}

func TestIsValidHoldTracksExpiry(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()
	product := seedProduct(t, repo)

	_, err := engine.Reserve(ctx, product.ID, "sess-a", 5*time.Second)
	require.NoError(t, err)

	valid, err := engine.IsValidHold(ctx, product.ID, t0.Add(4*time.Second))
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = engine.IsValidHold(ctx, product.ID, t0.Add(5*time.Second))
	require.NoError(t, err)
	assert.False(t, valid, "expiry is exclusive")

	valid, err = engine.IsValidHoldFor(ctx, product.ID, "sess-b", t0)
	require.NoError(t, err)
	assert.False(t, valid, "hold belongs to another session")

	valid, err = engine.IsValidHoldFor(ctx, product.ID, "sess-a", t0)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = engine.IsValidHold(ctx, uuid.New(), t0)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestSoldProductIsTerminal(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()
	product := seedProduct(t, repo)

	ok, err := engine.Reserve(ctx, product.ID, "sess-a", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = engine.Reserve(ctx, product.ID, "sess-b", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.CommitSale(ctx, inventory.CommitRequest{
		BuyerID:    uuid.New(),
		SessionID:  "sess-a",
		ProductIDs: []uuid.UUID{product.ID},
		AsOf:       t0,
	})
	require.NoError(t, err)

	ok, err = engine.Reserve(ctx, product.ID, "sess-b", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, engine.Release(ctx, product.ID))
	state, err := engine.State(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ProductStateSold, state)

	valid, err := engine.IsValidHold(ctx, product.ID, t0)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestExpiredHoldCanBeReclaimedAfterRelease(t *testing.T) {
	engine, repo, clock := newTestEngine(t)
	ctx := context.Background()
	product := seedProduct(t, repo)

	ok, err := engine.Reserve(ctx, product.ID, "sess-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.advance(2 * time.Second)

	released, err := engine.ReleaseExpired(ctx, product.ID, engine.Now())
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = engine.Reserve(ctx, product.ID, "sess-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseHeldIgnoresOtherSessions(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()
	product := seedProduct(t, repo)

	_, err := engine.Reserve(ctx, product.ID, "sess-a", time.Minute)
	require.NoError(t, err)

	released, err := engine.ReleaseHeld(ctx, product.ID, "sess-b")
	require.NoError(t, err)
	assert.False(t, released)

	state, err := engine.State(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ProductStateReserved, state)
}

func TestStateReportsMissingProducts(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	state, err := engine.State(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, enums.ProductStateMissing, state)
}

func TestStorageFailuresPropagate(t *testing.T) {
	errDown := pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("connection refused"), "reserve product")
	engine, err := NewEngine(EngineParams{
		Logger:     testLogger(),
		Store:      failingStore{err: errDown},
		DefaultTTL: time.Minute,
	})
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := engine.Reserve(ctx, uuid.New(), "sess-a", 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errDown)
	assert.True(t, pkgerrors.IsRetryable(err))

	assert.ErrorIs(t, engine.Release(ctx, uuid.New()), errDown)

	_, err = engine.IsValidHold(ctx, uuid.New(), t0)
	assert.ErrorIs(t, err, errDown)
}

func TestReserveRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	repo := inventory.NewRepository(newTestDB(t))
	engine, err := NewEngine(EngineParams{
		Logger:     testLogger(),
		Store:      repo,
		Metrics:    metrics.NewReservationMetrics(reg),
		DefaultTTL: time.Minute,
	})
	require.NoError(t, err)
	product := seedProduct(t, repo)

	_, err = engine.Reserve(context.Background(), product.ID, "a", 0)
	require.NoError(t, err)
	_, err = engine.Reserve(context.Background(), product.ID, "b", 0)
	require.NoError(t, err)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	found := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "walamarket_reserve_attempts_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			found[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, found[metrics.OutcomeReserved])
	assert.Equal(t, 1.0, found[metrics.OutcomeContended])
}

func TestNewEngineValidatesParams(t *testing.T) {
	_, err := NewEngine(EngineParams{Store: failingStore{}, DefaultTTL: time.Minute})
	assert.Error(t, err)
	_, err = NewEngine(EngineParams{Logger: testLogger(), DefaultTTL: time.Minute})
	assert.Error(t, err)
	_, err = NewEngine(EngineParams{Logger: testLogger(), Store: failingStore{}})
	assert.Error(t, err)
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

func newTestEngine(t *testing.T) (*Engine, *inventory.Repository, *testClock) {
	t.Helper()
	repo := inventory.NewRepository(newTestDB(t))
	clock := &testClock{now: t0}
	engine, err := NewEngine(EngineParams{
		Logger:     testLogger(),
		Store:      repo,
		DefaultTTL: 15 * time.Minute,
		Clock:      clock.Now,
	})
	require.NoError(t, err)
	return engine, repo, clock
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:reservations_" + uuid.NewString() + "?mode=memory&cache=shared"
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

func seedProduct(t *testing.T, repo *inventory.Repository) models.Product {
	t.Helper()
	product := models.Product{OwnerID: uuid.New(), Name: "lamp", Price: decimal.NewFromInt(10)}
	require.NoError(t, repo.CreateProduct(context.Background(), &product))
	return product
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type failingStore struct {
	inventory.Store
	err error
}

func (f failingStore) TryReserve(context.Context, uuid.UUID, string, time.Time) (bool, error) {
	return false, f.err
}

func (f failingStore) Release(context.Context, uuid.UUID) error {
	return f.err
}

func (f failingStore) GetReservationState(context.Context, uuid.UUID) (*inventory.ReservationState, error) {
	return nil, f.err
}
