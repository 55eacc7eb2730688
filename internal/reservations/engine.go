package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/walamarket/internal/inventory"
	"github.com/angelmondragon/walamarket/pkg/enums"
	"github.com/angelmondragon/walamarket/pkg/logger"
	"github.com/angelmondragon/walamarket/pkg/metrics"
)

type EngineParams struct {
	Logger     *logger.Logger
	Store      inventory.Store
	Metrics    *metrics.ReservationMetrics
	DefaultTTL time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine owns the per-product hold state machine:
// available -> reserved -> sold, with reserved -> available on release.
// All transitions are single conditional writes in the store; the engine
// keeps no state of its own and never retries.
type Engine struct {
	logg    *logger.Logger
	store   inventory.Store
	metrics *metrics.ReservationMetrics
	ttl     time.Duration
	now     func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Store == nil {
		return nil, errors.New("inventory store required")
	}
	if params.DefaultTTL <= 0 {
		return nil, errors.New("default reservation ttl must be positive")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		logg:    params.Logger,
		store:   params.Store,
		metrics: params.Metrics,
		ttl:     params.DefaultTTL,
		now:     now,
	}, nil
}

// Now returns the engine clock in UTC.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// TTL returns the configured hold duration.
func (e *Engine) TTL() time.Duration {
	return e.ttl
}

// Reserve tries to give sessionID an exclusive hold on productID for ttl
// (the configured TTL when ttl <= 0). false means someone else holds it or it
// is sold, delisted or unknown; only storage failures return an error.
func (e *Engine) Reserve(ctx context.Context, productID uuid.UUID, sessionID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = e.ttl
	}
	expiry := e.Now().Add(ttl)
	ok, err := e.store.TryReserve(ctx, productID, sessionID, expiry)
	if err != nil {
		e.metrics.IncReserve(metrics.OutcomeError)
		e.logg.Error(e.fields(ctx, productID, sessionID), "reserve failed", err)
		return false, err
	}
	if !ok {
		e.metrics.IncReserve(metrics.OutcomeContended)
		e.logg.Info(e.fields(ctx, productID, sessionID), "reserve lost")
		return false, nil
	}
	e.metrics.IncReserve(metrics.OutcomeReserved)
	logCtx := e.logg.WithField(e.fields(ctx, productID, sessionID), "expires_at", expiry)
	e.logg.Info(logCtx, "product reserved")
	return true, nil
}

// Release clears whatever hold productID has, whoever owns it. It is the
// operator path; carts use ReleaseHeld and the sweeper ReleaseExpired.
// Releasing an available or sold product is a no-op.
func (e *Engine) Release(ctx context.Context, productID uuid.UUID) error {
	if err := e.store.Release(ctx, productID); err != nil {
		e.logg.Error(e.fields(ctx, productID, ""), "release failed", err)
		return err
	}
	e.metrics.IncRelease(metrics.ReleaseExplicit)
	return nil
}

// ReleaseHeld clears the hold only if sessionID owns it, so a stale cart
// entry cannot drop another shopper's reservation.
func (e *Engine) ReleaseHeld(ctx context.Context, productID uuid.UUID, sessionID string) (bool, error) {
	released, err := e.store.ReleaseHeld(ctx, productID, sessionID)
	if err != nil {
		e.logg.Error(e.fields(ctx, productID, sessionID), "release failed", err)
		return false, err
	}
	if released {
		e.metrics.IncRelease(metrics.ReleaseSession)
		e.logg.Info(e.fields(ctx, productID, sessionID), "reservation released")
	}
	return released, nil
}

// ReleaseExpired clears the hold only when its deadline is before asOf.
func (e *Engine) ReleaseExpired(ctx context.Context, productID uuid.UUID, asOf time.Time) (bool, error) {
	released, err := e.store.ReleaseExpired(ctx, productID, asOf.UTC())
	if err != nil {
		return false, err
	}
	if released {
		e.metrics.IncRelease(metrics.ReleaseExpired)
	}
	return released, nil
}

// IsValidHold reads the current row: reserved, unsold, listed and expiring
// strictly after asOf. Unknown products are not valid holds.
func (e *Engine) IsValidHold(ctx context.Context, productID uuid.UUID, asOf time.Time) (bool, error) {
	state, err := e.lookup(ctx, productID)
	if err != nil || state == nil {
		return false, err
	}
	return state.ValidAt(asOf.UTC()), nil
}

// IsValidHoldFor is IsValidHold restricted to holds owned by sessionID.
func (e *Engine) IsValidHoldFor(ctx context.Context, productID uuid.UUID, sessionID string, asOf time.Time) (bool, error) {
	state, err := e.lookup(ctx, productID)
	if err != nil || state == nil {
		return false, err
	}
	return state.Holder == sessionID && state.ValidAt(asOf.UTC()), nil
}

// State reports the lifecycle state of productID, ProductStateMissing when unknown.
func (e *Engine) State(ctx context.Context, productID uuid.UUID) (enums.ProductState, error) {
	state, err := e.lookup(ctx, productID)
	if err != nil {
		return "", err
	}
	if state == nil {
		return enums.ProductStateMissing, nil
	}
	return state.State(), nil
}

func (e *Engine) lookup(ctx context.Context, productID uuid.UUID) (*inventory.ReservationState, error) {
	state, err := e.store.GetReservationState(ctx, productID)
	if err != nil {
		if errors.Is(err, inventory.ErrProductNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return state, nil
}

func (e *Engine) fields(ctx context.Context, productID uuid.UUID, sessionID string) context.Context {
	ctx = e.logg.WithProductID(ctx, productID.String())
	if sessionID != "" {
		ctx = e.logg.WithSessionID(ctx, sessionID)
	}
	return ctx
}
