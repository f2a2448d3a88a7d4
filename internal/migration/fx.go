package migration

import (
	"github.com/usagelab/netpulse/internal/config"
	ingestdomain "github.com/usagelab/netpulse/internal/ingest/domain"
	usagedomain "github.com/usagelab/netpulse/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql are dev/test conveniences; AutoMigrate keeps
		// them usable without maintaining per-dialect SQL.
		return conn.AutoMigrate(
			&usagedomain.UsageRecord{},
			&ingestdomain.IngestBatch{},
		)
	}),
)
