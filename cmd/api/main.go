package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/walamarket/api"
	"github.com/angelmondragon/walamarket/api/routes"
	"github.com/angelmondragon/walamarket/internal/cart"
	"github.com/angelmondragon/walamarket/internal/checkout"
	"github.com/angelmondragon/walamarket/internal/inventory"
	"github.com/angelmondragon/walamarket/internal/reservations"
	"github.com/angelmondragon/walamarket/pkg/config"
	"github.com/angelmondragon/walamarket/pkg/db"
	"github.com/angelmondragon/walamarket/pkg/instance"
	"github.com/angelmondragon/walamarket/pkg/logger"
	"github.com/angelmondragon/walamarket/pkg/metrics"
	"github.com/angelmondragon/walamarket/pkg/migrate"
	"github.com/angelmondragon/walamarket/pkg/outbox"
	"github.com/angelmondragon/walamarket/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api", Level: logger.ParseLevel("info")})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	handler, err := buildHandler(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to wire api", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg.App.Port, handler)
	logg.Info(logg.WithField(ctx, "port", cfg.App.Port), "starting api server")
	if err := api.Serve(ctx, srv, logg); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

func buildHandler(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (http.Handler, error) {
	inventoryRepo := inventory.NewRepository(dbClient.DB())
	reservationMetrics := metrics.NewReservationMetrics(prometheus.DefaultRegisterer)

	engine, err := reservations.NewEngine(reservations.EngineParams{
		Logger:     logg,
		Store:      inventoryRepo,
		Metrics:    reservationMetrics,
		DefaultTTL: cfg.Reservation.TTL,
	})
	if err != nil {
		return nil, err
	}

	cartStore, err := cart.NewRedisStore(redisClient, cfg.Reservation.CartTTL)
	if err != nil {
		return nil, err
	}
	cartService, err := cart.NewService(cart.ServiceParams{
		Logger:   logg,
		Store:    cartStore,
		Engine:   engine,
		Products: inventoryRepo,
	})
	if err != nil {
		return nil, err
	}

	coordinator, err := checkout.NewCoordinator(checkout.CoordinatorParams{
		Logger:  logg,
		DB:      dbClient,
		Store:   inventoryRepo,
		Holds:   engine,
		Cart:    cartService,
		Outbox:  outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Metrics: reservationMetrics,
	})
	if err != nil {
		return nil, err
	}

	salesService, err := checkout.NewSales(inventoryRepo)
	if err != nil {
		return nil, err
	}

	return routes.NewRouter(
		cfg,
		logg,
		dbClient,
		redisClient,
		cartService,
		coordinator,
		salesService,
		promhttp.Handler(),
	), nil
}
