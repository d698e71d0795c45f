package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/autora/internal/audit/domain"
	"github.com/smallbiznis/autora/internal/config"
	creditdomain "github.com/smallbiznis/autora/internal/credit/domain"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
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

		// Non-postgres databases (sqlite in dev and tests) go through
		// gorm's schema sync instead of the SQL migration files.
		if !cfg.AutoMigrate {
			return nil
		}
		return conn.AutoMigrate(
			&creditdomain.CreditAccount{},
			&creditdomain.CreditTransaction{},
			&reportdomain.Report{},
			&auditdomain.AuditLog{},
		)
	}),
)
