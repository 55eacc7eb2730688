package controllers

import (
	"net/http"

	"github.com/angelmondragon/walamarket/api/middleware"
	"github.com/angelmondragon/walamarket/api/responses"
	"github.com/angelmondragon/walamarket/api/validators"
	checkoutsvc "github.com/angelmondragon/walamarket/internal/checkout"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
)

func SalesList(svc checkoutsvc.Sales, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}
		sales, err := svc.ListForBuyer(r.Context(), middleware.BuyerIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]saleResponse, 0, len(sales))
		for _, sale := range sales {
			out = append(out, newSaleResponse(sale))
		}
		responses.WriteSuccess(w, out)
	}
}

func SalesDetail(svc checkoutsvc.Sales, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sales service unavailable"))
			return
		}
		saleID, err := validators.PathUUID(r, "saleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sale, err := svc.Get(r.Context(), middleware.BuyerIDFromContext(r.Context()), saleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSaleResponse(*sale))
	}
}
