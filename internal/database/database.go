package database

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/booking-api/internal/audit"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/catalog"
	"github.com/ksred/booking-api/internal/config"
	"github.com/ksred/booking-api/internal/database/migrations"
	"github.com/ksred/booking-api/internal/order"
	"github.com/ksred/booking-api/internal/payment"
	"github.com/ksred/booking-api/internal/refund"
	"github.com/ksred/booking-api/internal/settlement"
	"github.com/ksred/booking-api/internal/timeslot"
)

// Models lists every table the service owns, in creation order.
func Models() []any {
	return []any{
		&auth.User{},
		&catalog.Provider{},
		&catalog.Offering{},
		&timeslot.TimeSlot{},
		&order.Order{},
		&payment.Payment{},
		&refund.Refund{},
		&settlement.Settlement{},
		&settlement.Batch{},
		&audit.Log{},
	}
}

// NewDatabase opens the configured database and migrates it.
func NewDatabase(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", cfg.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if cfg.Driver == "sqlite" {
		// SQLite has a single writer; one connection serialises transactions.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info().Str("driver", cfg.Driver).Msg("database ready")
	return db, nil
}

// Migrate creates the schema and the secondary indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return errors.Wrap(err, "auto-migrate schema")
	}
	if err := migrations.AddLookupIndexes(db); err != nil {
		return errors.Wrap(err, "add lookup indexes")
	}
	if err := migrations.AddSettlementIndexes(db); err != nil {
		return errors.Wrap(err, "add settlement indexes")
	}
	return nil
}
