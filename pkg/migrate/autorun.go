package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/walamarket/pkg/config"
	"github.com/angelmondragon/walamarket/pkg/db"
	"github.com/angelmondragon/walamarket/pkg/logger"
)

// MaybeRunDev brings the schema up to date on startup. It only acts in the
// dev environment with WALAMARKET_AUTO_MIGRATE set; every other environment
// runs cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	if err := Run(ctx, sqlDB, cfg.DB.Driver, "up"); err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "driver", cfg.DB.Driver), "dev migrations applied")
	return nil
}
