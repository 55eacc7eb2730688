package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/walamarket/api/controllers"
	"github.com/angelmondragon/walamarket/internal/cart"
	"github.com/angelmondragon/walamarket/internal/checkout"
	"github.com/angelmondragon/walamarket/internal/inventory"
	"github.com/angelmondragon/walamarket/internal/reservations"
	"github.com/angelmondragon/walamarket/pkg/config"
	dbpkg "github.com/angelmondragon/walamarket/pkg/db"
	"github.com/angelmondragon/walamarket/pkg/db/models"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
	"github.com/angelmondragon/walamarket/pkg/metrics"
	"github.com/angelmondragon/walamarket/pkg/outbox"
	"github.com/angelmondragon/walamarket/pkg/types"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error { return s.err }

type testServer struct {
	handler http.Handler
	repo    *inventory.Repository
}

func newTestServer(t *testing.T, redisP controllers.Pinger) *testServer {
	t.Helper()
	db := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	reg := prometheus.NewRegistry()
	resMetrics := metrics.NewReservationMetrics(reg)

	repo := inventory.NewRepository(db)
	engine, err := reservations.NewEngine(reservations.EngineParams{
		Logger:     logg,
		Store:      repo,
		Metrics:    resMetrics,
		DefaultTTL: 15 * time.Minute,
	})
	require.NoError(t, err)
	cartSvc, err := cart.NewService(cart.ServiceParams{
		Logger:   logg,
		Store:    newMemoryStore(),
		Engine:   engine,
		Products: repo,
	})
	require.NoError(t, err)
	coord, err := checkout.NewCoordinator(checkout.CoordinatorParams{
		Logger:  logg,
		DB:      dbpkg.NewFromGorm(db),
		Store:   repo,
		Holds:   engine,
		Cart:    cartSvc,
		Outbox:  outbox.NewService(outbox.NewRepository(db), logg),
		Metrics: resMetrics,
	})
	require.NoError(t, err)
	sales, err := checkout.NewSales(repo)
	require.NoError(t, err)

	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	handler := NewRouter(cfg, logg, stubPinger{}, redisP, cartSvc, coord, sales,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &testServer{handler: handler, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path, session string, buyer uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if session != "" {
		req.Header.Set("X-Session-Id", session)
	}
	if buyer != uuid.Nil {
		req.Header.Set("X-Buyer-Id", buyer.String())
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seed(t *testing.T, name, price string) models.Product {
	t.Helper()
	p := models.Product{OwnerID: uuid.New(), Name: name, Price: decimal.RequireFromString(price)}
	require.NoError(t, s.repo.CreateProduct(context.Background(), &p))
	return p
}

func TestCartAndCheckoutFlow(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	lamp := srv.seed(t, "lamp", "10.00")
	vase := srv.seed(t, "vase", "2.50")
	buyer := uuid.New()

	rec := srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-a", uuid.Nil, map[string]string{"product_id": lamp.ID.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-a", uuid.Nil, map[string]string{"product_id": vase.ID.String()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-b", uuid.Nil, map[string]string{"product_id": lamp.ID.String()})
	require.Equal(t, http.StatusConflict, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, string(pkgerrors.CodeUnavailable), apiErr.Code)
	assert.Equal(t, "reserved", apiErr.Details.(map[string]any)["reason"])

	rec = srv.do(t, http.MethodGet, "/api/v1/cart", "sess-a", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cartBody struct {
		Data struct {
			Products []struct {
				ID uuid.UUID `json:"id"`
			} `json:"products"`
			Total string `json:"total"`
			Count int    `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cartBody))
	assert.Equal(t, "12.50", cartBody.Data.Total)
	assert.Equal(t, 2, cartBody.Data.Count)
	require.Len(t, cartBody.Data.Products, 2)
	assert.Equal(t, lamp.ID, cartBody.Data.Products[0].ID)

	rec = srv.do(t, http.MethodPost, "/api/v1/checkout", "sess-a", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "checkout needs a buyer")

	rec = srv.do(t, http.MethodPost, "/api/v1/checkout", "sess-a", buyer, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var checkoutBody struct {
		Data struct {
			SaleID uuid.UUID `json:"sale_id"`
			Total  string    `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&checkoutBody))
	assert.Equal(t, "12.50", checkoutBody.Data.Total)

	rec = srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-b", uuid.Nil, map[string]string{"product_id": lamp.ID.String()})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "sold", decodeError(t, rec).Details.(map[string]any)["reason"])

	rec = srv.do(t, http.MethodGet, "/api/v1/sales", "sess-a", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var salesBody struct {
		Data []struct {
			ID       uuid.UUID `json:"id"`
			Products []struct {
				ID uuid.UUID `json:"id"`
			} `json:"products"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&salesBody))
	require.Len(t, salesBody.Data, 1)
	assert.Equal(t, checkoutBody.Data.SaleID, salesBody.Data[0].ID)
	assert.Len(t, salesBody.Data[0].Products, 2)

	rec = srv.do(t, http.MethodGet, "/api/v1/sales/"+checkoutBody.Data.SaleID.String(), "sess-x", uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/cart", "sess-a", uuid.Nil, nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cartBody))
	assert.Zero(t, cartBody.Data.Count, "cart is empty after checkout")
}

func TestSessionEndReleasesHolds(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	lamp := srv.seed(t, "lamp", "10.00")

	rec := srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-a", uuid.Nil, map[string]string{"product_id": lamp.ID.String()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/sessions/end", "sess-a", uuid.Nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = srv.do(t, http.MethodPost, "/api/v1/sessions/end", "sess-a", uuid.Nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, "ending twice is a no-op")

	rec = srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-b", uuid.Nil, map[string]string{"product_id": lamp.ID.String()})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRemoveFromCart(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	lamp := srv.seed(t, "lamp", "10.00")

	srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-a", uuid.Nil, map[string]string{"product_id": lamp.ID.String()})
	rec := srv.do(t, http.MethodDelete, "/api/v1/cart/items/"+lamp.ID.String(), "sess-a", uuid.Nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = srv.do(t, http.MethodDelete, "/api/v1/cart/items/"+lamp.ID.String(), "sess-a", uuid.Nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/api/v1/cart/items/not-a-uuid", "sess-a", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	srv := newTestServer(t, stubPinger{})

	rec := srv.do(t, http.MethodGet, "/api/v1/cart", "", uuid.Nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "session header required")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil)
	req.Header.Set("X-Session-Id", "sess-a")
	req.Header.Set("X-Buyer-Id", "bogus")
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-a", uuid.Nil, map[string]string{"product_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-a", uuid.Nil, map[string]string{"product_id": uuid.Nil.String()})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "nil product id")

	rec = srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-a", uuid.Nil, map[string]any{"product_id": uuid.NewString(), "extra": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-a", uuid.Nil, map[string]string{"product_id": uuid.NewString()})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Details.(map[string]any)["reason"])

	rec = srv.do(t, http.MethodPost, "/api/v1/checkout", "sess-a", uuid.New(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty cart")
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	rec := srv.do(t, http.MethodGet, "/health/live", "", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-Walamarket-Env"))

	rec = srv.do(t, http.MethodGet, "/health/ready", "", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.do(t, http.MethodPost, "/api/v1/cart/items", "sess-a", uuid.Nil, map[string]string{"product_id": uuid.NewString()})
	rec = srv.do(t, http.MethodGet, "/metrics", "", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "walamarket_reserve_attempts_total")

	down := newTestServer(t, stubPinger{err: errors.New("connection refused")})
	rec = down.do(t, http.MethodGet, "/health/ready", "", uuid.Nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "redis", decodeError(t, rec).Details.(map[string]any)["dependency"])
}

func TestRecovererTurnsPanicsIntoInternalErrors(t *testing.T) {
	srv := newTestServer(t, stubPinger{})
	router := srv.handler.(interface {
		Get(pattern string, h http.HandlerFunc)
	})
	router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rec := srv.do(t, http.MethodGet, "/boom", "", uuid.Nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:routes_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Sale{}, &models.Product{}, &models.OutboxEvent{}))
	return db
}

type memoryStore struct {
	mu    sync.Mutex
	carts map[string]map[uuid.UUID]time.Time
	seq   int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{carts: map[string]map[uuid.UUID]time.Time{}}
}

// Add ignores addedAt and uses a sequence so rapid adds keep their order.
func (m *memoryStore) Add(_ context.Context, sessionID string, productID uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[sessionID]
	if !ok {
		c = map[uuid.UUID]time.Time{}
		m.carts[sessionID] = c
	}
	if _, exists := c[productID]; !exists {
		m.seq++
		c[productID] = time.Unix(0, m.seq)
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
	c := m.carts[sessionID]
	ids := make([]uuid.UUID, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return c[ids[i]].Before(c[ids[j]]) })
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
