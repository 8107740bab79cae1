package migration

import (
	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
	"github.com/voxguard/voxguard/internal/config"
	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	usagedomain "github.com/voxguard/voxguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migration",
	fx.Invoke(Migrate),
)

// Migrate brings the schema up to date before the server starts
// serving. Postgres uses the embedded SQL migrations; other dialects
// (sqlite in tests and small deployments) fall back to AutoMigrate.
func Migrate(cfg config.Config, conn *gorm.DB, log *zap.Logger) error {
	if cfg.DBType == "postgres" {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("schema migrations applied")
		return nil
	}

	return conn.AutoMigrate(
		&attestdomain.AttestedKey{},
		&ledgerdomain.Receipt{},
		&ledgerdomain.UserAccount{},
		&usagedomain.UsageLog{},
	)
}
