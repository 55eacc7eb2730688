package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/walamarket/internal/inventory"
	"github.com/angelmondragon/walamarket/pkg/db/models"
	"github.com/angelmondragon/walamarket/pkg/enums"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
	"github.com/angelmondragon/walamarket/pkg/metrics"
	"github.com/angelmondragon/walamarket/pkg/outbox"
	"github.com/angelmondragon/walamarket/pkg/outbox/payloads"
)

// Phase is the position of one checkout attempt:
// validating -> committing -> done, or validating -> aborted.
type Phase string

const (
	PhaseValidating Phase = "validating"
	PhaseCommitting Phase = "committing"
	PhaseDone       Phase = "done"
	PhaseAborted    Phase = "aborted"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type holdValidator interface {
	IsValidHoldFor(ctx context.Context, productID uuid.UUID, sessionID string, asOf time.Time) (bool, error)
	Now() time.Time
}

type cartService interface {
	Items(ctx context.Context, sessionID string) ([]uuid.UUID, error)
	Clear(ctx context.Context, sessionID string) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StaleHoldDetails is attached to STALE_HOLD errors.
type StaleHoldDetails struct {
	FailedProductIDs []uuid.UUID `json:"failed_product_ids"`
}

// Coordinator turns a session's cart into a sale, all or nothing.
type Coordinator interface {
	Checkout(ctx context.Context, sessionID string, buyerID uuid.UUID) (*models.Sale, error)
}

type CoordinatorParams struct {
	Logger  *logger.Logger
	DB      txRunner
	Store   inventory.Store
	Holds   holdValidator
	Cart    cartService
	Outbox  outboxPublisher
	Metrics *metrics.ReservationMetrics
}

type coordinator struct {
	logg    *logger.Logger
	db      txRunner
	store   inventory.Store
	holds   holdValidator
	cart    cartService
	outbox  outboxPublisher
	metrics *metrics.ReservationMetrics
}

func NewCoordinator(params CoordinatorParams) (Coordinator, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("inventory store required")
	}
	if params.Holds == nil {
		return nil, fmt.Errorf("hold validator required")
	}
	if params.Cart == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &coordinator{
		logg:    params.Logger,
		db:      params.DB,
		store:   params.Store,
		holds:   params.Holds,
		cart:    params.Cart,
		outbox:  params.Outbox,
		metrics: params.Metrics,
	}, nil
}

func (c *coordinator) Checkout(ctx context.Context, sessionID string, buyerID uuid.UUID) (*models.Sale, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	ctx = c.logg.WithBuyerID(c.logg.WithSessionID(ctx, sessionID), buyerID.String())

	ids, err := c.cart.Items(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}

	now := c.holds.Now()
	c.phase(ctx, PhaseValidating, len(ids))
	failed, err := c.validate(ctx, sessionID, ids, now)
	if err != nil {
		c.abort(ctx, metrics.OutcomeError, err)
		return nil, err
	}
	if len(failed) > 0 {
		staleErr := staleHoldError(failed)
		c.abort(ctx, metrics.OutcomeStale, staleErr)
		return nil, staleErr
	}

	c.phase(ctx, PhaseCommitting, len(ids))
	var sale *models.Sale
	commitAt := now
	err = c.db.WithTx(ctx, func(tx *gorm.DB) error {
		// holds are checked again at the moment of sale, not at validation time
		commitAt = c.holds.Now()
		committed, err := c.store.WithTx(tx).CommitSale(ctx, inventory.CommitRequest{
			BuyerID:    buyerID,
			SessionID:  sessionID,
			ProductIDs: ids,
			AsOf:       commitAt,
		})
		if err != nil {
			return err
		}
		if err := c.outbox.Emit(ctx, tx, saleCompletedEvent(committed, commitAt)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue sale event")
		}
		sale = committed
		return nil
	})
	if err != nil {
		if errors.Is(err, inventory.ErrHoldLost) {
			staleErr := c.staleAfterRace(ctx, sessionID, ids, commitAt)
			c.abort(ctx, metrics.OutcomeStale, staleErr)
			return nil, staleErr
		}
		c.abort(ctx, metrics.OutcomeError, err)
		return nil, err
	}

	c.metrics.IncCheckout(metrics.OutcomeCommitted)
	doneCtx := c.logg.WithFields(ctx, map[string]any{
		"sale_id": sale.ID.String(),
		"total":   sale.Total.StringFixed(2),
	})
	c.phase(doneCtx, PhaseDone, len(ids))

	if err := c.cart.Clear(ctx, sessionID); err != nil {
		c.logg.Error(doneCtx, "clear cart after checkout", err)
	}
	return sale, nil
}

// validate returns every id the session no longer validly holds at asOf.
func (c *coordinator) validate(ctx context.Context, sessionID string, ids []uuid.UUID, asOf time.Time) ([]uuid.UUID, error) {
	failed := []uuid.UUID{}
	for _, id := range ids {
		valid, err := c.holds.IsValidHoldFor(ctx, id, sessionID, asOf)
		if err != nil {
			return nil, err
		}
		if !valid {
			failed = append(failed, id)
		}
	}
	return failed, nil
}

// staleAfterRace re-reads the holds after a commit lost a product between
// validation and commit so the caller learns which items to drop.
func (c *coordinator) staleAfterRace(ctx context.Context, sessionID string, ids []uuid.UUID, asOf time.Time) error {
	failed, err := c.validate(ctx, sessionID, ids, asOf)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		failed = ids
	}
	return staleHoldError(failed)
}

func (c *coordinator) phase(ctx context.Context, phase Phase, items int) {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"phase": phase,
		"items": items,
	})
	c.logg.Info(logCtx, "checkout phase")
}

func (c *coordinator) abort(ctx context.Context, outcome string, err error) {
	c.metrics.IncCheckout(outcome)
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"phase":   PhaseAborted,
		"outcome": outcome,
	})
	if ids := FailedProductIDs(err); len(ids) > 0 {
		logCtx = c.logg.WithField(logCtx, "failed_product_ids", ids)
	}
	c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "checkout aborted")
}

func staleHoldError(failed []uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeStaleHold, "some items are no longer reserved for this session").
		WithDetails(StaleHoldDetails{FailedProductIDs: failed})
}

// FailedProductIDs extracts the offending product ids from a STALE_HOLD error.
func FailedProductIDs(err error) []uuid.UUID {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStaleHold {
		return nil
	}
	details, ok := typed.Details().(StaleHoldDetails)
	if !ok {
		return nil
	}
	return details.FailedProductIDs
}

func saleCompletedEvent(sale *models.Sale, at time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventSaleCompleted,
		AggregateType: enums.AggregateSale,
		AggregateID:   sale.ID,
		Actor: &outbox.ActorRef{
			SessionID: sale.SessionID,
			BuyerID:   &sale.BuyerID,
		},
		Data: payloads.SaleCompletedEvent{
			SaleID:      sale.ID,
			BuyerID:     sale.BuyerID,
			SessionID:   sale.SessionID,
			ProductIDs:  sale.ProductIDs(),
			Total:       sale.Total.StringFixed(2),
			CompletedAt: at,
		},
		OccurredAt: at,
	}
}
