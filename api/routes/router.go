package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/walamarket/api/controllers"
	"github.com/angelmondragon/walamarket/api/middleware"
	"github.com/angelmondragon/walamarket/internal/cart"
	"github.com/angelmondragon/walamarket/internal/checkout"
	"github.com/angelmondragon/walamarket/pkg/config"
	"github.com/angelmondragon/walamarket/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	cartService cart.Service,
	coordinator checkout.Coordinator,
	salesService checkout.Sales,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisP,
		}))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Session(logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(cartService, logg))
			r.Post("/items", controllers.CartAdd(cartService, logg))
			r.Delete("/items/{productId}", controllers.CartRemove(cartService, logg))
		})
		r.Post("/sessions/end", controllers.SessionEnd(cartService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireBuyer(logg))
			r.Post("/checkout", controllers.Checkout(coordinator, logg))
			r.Get("/sales", controllers.SalesList(salesService, logg))
			r.Get("/sales/{saleId}", controllers.SalesDetail(salesService, logg))
		})
	})

	return r
}
