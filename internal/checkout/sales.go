package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/walamarket/internal/inventory"
	"github.com/angelmondragon/walamarket/pkg/db/models"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
)

type saleReader interface {
	FindSale(ctx context.Context, saleID uuid.UUID) (*models.Sale, error)
	ListSalesByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Sale, error)
}

// Sales is the buyer's read-only view of completed checkouts.
type Sales interface {
	Get(ctx context.Context, buyerID, saleID uuid.UUID) (*models.Sale, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Sale, error)
}

type sales struct {
	reader saleReader
}

func NewSales(reader saleReader) (Sales, error) {
	if reader == nil {
		return nil, fmt.Errorf("sale reader required")
	}
	return &sales{reader: reader}, nil
}

// Get returns the sale when it belongs to buyerID; other buyers' sales are
// reported as missing.
func (s *sales) Get(ctx context.Context, buyerID, saleID uuid.UUID) (*models.Sale, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	sale, err := s.reader.FindSale(ctx, saleID)
	if err != nil {
		if errors.Is(err, inventory.ErrSaleNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
		}
		return nil, err
	}
	if sale.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
	}
	return sale, nil
}

func (s *sales) ListForBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Sale, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	return s.reader.ListSalesByBuyer(ctx, buyerID)
}
