package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/walamarket/pkg/db/models"
	"github.com/angelmondragon/walamarket/pkg/enums"
)

var (
	// ErrProductNotFound is returned by reads that target an unknown id.
	ErrProductNotFound = errors.New("product not found")
	// ErrHoldLost means at least one product stopped being validly held by the
	// committing session between validation and commit. Nothing was written.
	ErrHoldLost = errors.New("reservation no longer held by session")
	// ErrSaleNotFound is returned by FindSale for unknown ids.
	ErrSaleNotFound = errors.New("sale not found")
)

// Store is the durable record of products, their holds and completed sales.
// Every mutation is a single conditional statement so concurrent callers on
// the same product get a well-defined winner.
type Store interface {
	WithTx(tx *gorm.DB) Store

	TryReserve(ctx context.Context, productID uuid.UUID, holder string, expiry time.Time) (bool, error)
	Release(ctx context.Context, productID uuid.UUID) error
	ReleaseHeld(ctx context.Context, productID uuid.UUID, holder string) (bool, error)
	ReleaseExpired(ctx context.Context, productID uuid.UUID, asOf time.Time) (bool, error)
	GetReservationState(ctx context.Context, productID uuid.UUID) (*ReservationState, error)
	ScanReserved(ctx context.Context) ([]models.Product, error)
	CommitSale(ctx context.Context, req CommitRequest) (*models.Sale, error)

	CreateProduct(ctx context.Context, product *models.Product) error
	FindByID(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	FindByIDs(ctx context.Context, productIDs []uuid.UUID) ([]models.Product, error)
	SoftDelete(ctx context.Context, productID uuid.UUID, deletedBy string) (bool, error)
	FindSale(ctx context.Context, saleID uuid.UUID) (*models.Sale, error)
	ListSalesByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Sale, error)
}

// ReservationState is the authoritative hold snapshot of one product.
type ReservationState struct {
	ProductID uuid.UUID
	Reserved  bool
	Expiry    *time.Time
	Holder    string
	SaleID    *uuid.UUID
	Deleted   bool
}

func stateOf(p models.Product) *ReservationState {
	state := &ReservationState{
		ProductID: p.ID,
		Reserved:  p.Reserved,
		Expiry:    p.ReservationExpiry,
		SaleID:    p.SaleID,
		Deleted:   p.Deleted,
	}
	if p.ReservedBy != nil {
		state.Holder = *p.ReservedBy
	}
	return state
}

func (s ReservationState) Sold() bool {
	return s.SaleID != nil
}

// ValidAt mirrors models.Product.HoldValidAt.
func (s ReservationState) ValidAt(asOf time.Time) bool {
	if s.Sold() || s.Deleted || !s.Reserved || s.Expiry == nil {
		return false
	}
	return s.Expiry.After(asOf)
}

func (s ReservationState) State() enums.ProductState {
	switch {
	case s.Sold():
		return enums.ProductStateSold
	case s.Deleted:
		return enums.ProductStateDeleted
	case s.Reserved:
		return enums.ProductStateReserved
	default:
		return enums.ProductStateAvailable
	}
}

// CommitRequest describes one checkout's sale.
type CommitRequest struct {
	BuyerID    uuid.UUID
	SessionID  string
	ProductIDs []uuid.UUID
	AsOf       time.Time
}
