package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/walamarket/api/middleware"
	"github.com/angelmondragon/walamarket/api/responses"
	"github.com/angelmondragon/walamarket/api/validators"
	cartsvc "github.com/angelmondragon/walamarket/internal/cart"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
)

type addItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
}

type addItemResponse struct {
	ProductID uuid.UUID `json:"product_id"`
	Added     bool      `json:"added"`
}

type cartResponse struct {
	Products []productResponse `json:"products"`
	Total    string            `json:"total"`
	Count    int               `json:"count"`
}

// CartAdd reserves a product for the session and puts it in the cart. A
// product held elsewhere, sold or delisted answers 409 with the reason.
func CartAdd(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := validators.ParseUUID(payload.ProductID, "product_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Add(r.Context(), middleware.SessionIDFromContext(r.Context()), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Added {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnavailable, "item unavailable").
				WithDetails(map[string]any{
					"product_id": productID,
					"reason":     result.Reason,
				}))
			return
		}
		responses.WriteSuccess(w, addItemResponse{ProductID: productID, Added: true})
	}
}

func CartRemove(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		productID, err := validators.PathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Remove(r.Context(), middleware.SessionIDFromContext(r.Context()), productID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CartFetch lists the cart in the order items were added, with the running total.
func CartFetch(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		summary, err := svc.Summary(r.Context(), middleware.SessionIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartResponse{
			Products: newProductResponses(summary.Products),
			Total:    summary.Total.StringFixed(2),
			Count:    summary.Count,
		})
	}
}
