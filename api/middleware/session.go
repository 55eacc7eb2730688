package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/walamarket/api/responses"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
	"github.com/angelmondragon/walamarket/pkg/logger"
)

const (
	SessionHeader = "X-Session-Id"
	BuyerHeader   = "X-Buyer-Id"

	maxSessionIDLength = 128
)

// Session binds the shopper session, and the buyer when one is signed in, to
// the request context. Every cart route needs a session.
func Session(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := strings.TrimSpace(r.Header.Get(SessionHeader))
			if sessionID == "" || len(sessionID) > maxSessionIDLength {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session header is required").
					WithDetails(map[string]any{"header": SessionHeader}))
				return
			}
			ctx := WithSessionID(r.Context(), sessionID)
			if logg != nil {
				ctx = logg.WithSessionID(ctx, sessionID)
			}

			if raw := strings.TrimSpace(r.Header.Get(BuyerHeader)); raw != "" {
				buyerID, err := uuid.Parse(raw)
				if err != nil || buyerID == uuid.Nil {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "buyer header must be a uuid").
						WithDetails(map[string]any{"header": BuyerHeader}))
					return
				}
				ctx = WithBuyerID(ctx, buyerID)
				if logg != nil {
					ctx = logg.WithBuyerID(ctx, buyerID.String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireBuyer rejects anonymous sessions.
func RequireBuyer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if BuyerIDFromContext(r.Context()) == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "buyer header is required").
					WithDetails(map[string]any{"header": BuyerHeader}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
