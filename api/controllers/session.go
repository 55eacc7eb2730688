package controllers

import (
	"net/http"

	"github.com/angelmondragon/walamarket/api/middleware"
	"github.com/angelmondragon/walamarket/api/responses"
	cartsvc "github.com/angelmondragon/walamarket/internal/cart"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
)

// SessionEnd is called by the session layer when a shopper session
// terminates; it releases every hold the session still owns.
func SessionEnd(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		if err := svc.EndSession(r.Context(), middleware.SessionIDFromContext(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
