package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/walamarket/api/middleware"
	"github.com/angelmondragon/walamarket/api/responses"
	checkoutsvc "github.com/angelmondragon/walamarket/internal/checkout"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
)

type checkoutResponse struct {
	SaleID     uuid.UUID   `json:"sale_id"`
	Total      string      `json:"total"`
	ProductIDs []uuid.UUID `json:"product_ids"`
}

// Checkout sells the whole cart or nothing. Stale holds answer 422 with
// failed_product_ids in the error details.
func Checkout(coord checkoutsvc.Coordinator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		ctx := r.Context()
		sale, err := coord.Checkout(ctx, middleware.SessionIDFromContext(ctx), middleware.BuyerIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			SaleID:     sale.ID,
			Total:      sale.Total.StringFixed(2),
			ProductIDs: sale.ProductIDs(),
		})
	}
}
