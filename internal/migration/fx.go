package migration

import (
	careplandomain "github.com/ronitlabs/talktime/internal/careplan/domain"
	"github.com/ronitlabs/talktime/internal/config"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	paymentsdomain "github.com/ronitlabs/talktime/internal/payments/domain"
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

		// sqlite (local development) has no migration driver here; gorm's
		// schema sync is good enough for a throwaway dev database.
		return conn.AutoMigrate(
			&ledgerdomain.UserAccount{},
			&ledgerdomain.SessionLog{},
			&paymentsdomain.Transaction{},
			&careplandomain.Task{},
			&careplandomain.Blueprint{},
		)
	}),
)
