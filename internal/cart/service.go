package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/angelmondragon/walamarket/pkg/db/models"
	"github.com/angelmondragon/walamarket/pkg/enums"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
)

type reservationEngine interface {
	Reserve(ctx context.Context, productID uuid.UUID, sessionID string, ttl time.Duration) (bool, error)
	ReleaseHeld(ctx context.Context, productID uuid.UUID, sessionID string) (bool, error)
	IsValidHoldFor(ctx context.Context, productID uuid.UUID, sessionID string, asOf time.Time) (bool, error)
	State(ctx context.Context, productID uuid.UUID) (enums.ProductState, error)
	Now() time.Time
}

type productReader interface {
	FindByIDs(ctx context.Context, productIDs []uuid.UUID) ([]models.Product, error)
}

// Service is the session cart: a view over the holds one session owns.
type Service interface {
	Add(ctx context.Context, sessionID string, productID uuid.UUID) (AddResult, error)
	Remove(ctx context.Context, sessionID string, productID uuid.UUID) error
	Clear(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
	Items(ctx context.Context, sessionID string) ([]uuid.UUID, error)
	Contents(ctx context.Context, sessionID string) ([]models.Product, error)
	Summary(ctx context.Context, sessionID string) (*Summary, error)
}

// AddResult reports whether the product joined the cart and, when it did
// not, the state that blocked it.
type AddResult struct {
	Added  bool
	Reason enums.ProductState
}

// Summary is the display form of a cart.
type Summary struct {
	Products []models.Product
	Total    decimal.Decimal
	Count    int
}

type ServiceParams struct {
	Logger   *logger.Logger
	Store    SessionStore
	Engine   reservationEngine
	Products productReader
}

type service struct {
	logg     *logger.Logger
	store    SessionStore
	engine   reservationEngine
	products productReader
}

func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("session store required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reservation engine required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product reader required")
	}
	return &service{
		logg:     params.Logger,
		store:    params.Store,
		engine:   params.Engine,
		products: params.Products,
	}, nil
}

// Add reserves productID for the session and appends it to the cart. An
// item the session already validly holds is accepted again without a new
// reservation. A lost reservation leaves the cart untouched.
func (s *service) Add(ctx context.Context, sessionID string, productID uuid.UUID) (AddResult, error) {
	if err := validateSession(sessionID); err != nil {
		return AddResult{}, err
	}
	if productID == uuid.Nil {
		return AddResult{}, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	logCtx := s.logg.WithProductID(s.logg.WithSessionID(ctx, sessionID), productID.String())

	inCart, err := s.store.Contains(ctx, sessionID, productID)
	if err != nil {
		return AddResult{}, cartStoreErr(err, "read cart")
	}
	if inCart {
		held, err := s.engine.IsValidHoldFor(ctx, productID, sessionID, s.engine.Now())
		if err != nil {
			return AddResult{}, err
		}
		if held {
			return AddResult{Added: true}, nil
		}
	}

	reserved, err := s.engine.Reserve(ctx, productID, sessionID, 0)
	if err != nil {
		return AddResult{}, err
	}
	if !reserved {
		state, err := s.engine.State(ctx, productID)
		if err != nil {
			return AddResult{}, err
		}
		if state == enums.ProductStateAvailable {
			// released between the reserve attempt and the read
			state = enums.ProductStateReserved
		}
		s.logg.Info(s.logg.WithField(logCtx, "reason", state), "cart add rejected")
		return AddResult{Reason: state}, nil
	}

	if err := s.store.Add(ctx, sessionID, productID, s.engine.Now()); err != nil {
		if _, relErr := s.engine.ReleaseHeld(ctx, productID, sessionID); relErr != nil {
			s.logg.Error(logCtx, "release after failed cart write", relErr)
		}
		return AddResult{}, cartStoreErr(err, "write cart")
	}
	s.logg.Info(logCtx, "cart item added")
	return AddResult{Added: true}, nil
}

// Remove drops productID from the cart and releases the session's hold on
// it whether or not it was in the cart.
func (s *service) Remove(ctx context.Context, sessionID string, productID uuid.UUID) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	var errs error
	if err := s.store.Remove(ctx, sessionID, productID); err != nil {
		errs = multierr.Append(errs, cartStoreErr(err, "remove cart item"))
	}
	if _, err := s.engine.ReleaseHeld(ctx, productID, sessionID); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Clear releases every hold in the cart and then deletes it. Sold items are
// skipped by the release itself. The cart survives when any release fails
// so a retry can finish the job.
func (s *service) Clear(ctx context.Context, sessionID string) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	ids, err := s.store.Members(ctx, sessionID)
	if err != nil {
		return cartStoreErr(err, "read cart")
	}
	var errs error
	released := 0
	for _, id := range ids {
		ok, err := s.engine.ReleaseHeld(ctx, id, sessionID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %s: %w", id, err))
			continue
		}
		if ok {
			released++
		}
	}
	if errs != nil {
		return errs
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return cartStoreErr(err, "delete cart")
	}
	logCtx := s.logg.WithFields(s.logg.WithSessionID(ctx, sessionID), map[string]any{
		"items":    len(ids),
		"released": released,
	})
	s.logg.Info(logCtx, "cart cleared")
	return nil
}

// EndSession is the session-termination hook. Repeated calls are no-ops.
func (s *service) EndSession(ctx context.Context, sessionID string) error {
	return s.Clear(ctx, sessionID)
}

func (s *service) Items(ctx context.Context, sessionID string) ([]uuid.UUID, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	ids, err := s.store.Members(ctx, sessionID)
	if err != nil {
		return nil, cartStoreErr(err, "read cart")
	}
	return ids, nil
}

// Contents resolves the cart to product rows in cart order for display. Holds
// are not revalidated here.
func (s *service) Contents(ctx context.Context, sessionID string) ([]models.Product, error) {
	ids, err := s.Items(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Product{}, nil
	}
	return s.products.FindByIDs(ctx, ids)
}

func (s *service) Summary(ctx context.Context, sessionID string) (*Summary, error) {
	products, err := s.Contents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, p := range products {
		total = total.Add(p.Price)
	}
	return &Summary{Products: products, Total: total, Count: len(products)}, nil
}

func validateSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	return nil
}

func cartStoreErr(err error, op string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
