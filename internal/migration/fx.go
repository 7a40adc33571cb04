package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/matinoplay/billing/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, logger *zap.Logger) error {
		// The embedded migrations are postgres DDL. Other dialects manage
		// their schema out of band.
		if cfg.DBType != "postgres" {
			logger.Info("skipping migrations", zap.String("db_type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
