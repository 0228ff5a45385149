package database

import (
	"fmt"
	"strings"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/chat"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/tenancy"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open establishes a database connection and performs schema migrations. The
// driver is picked from the DSN: postgres:// and postgresql:// schemes use the
// Postgres driver, everything else is treated as a SQLite path or DSN.
func Open(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	dialector, singleWriter := dialectorFor(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if singleWriter {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(
		&tenancy.Gym{},
		&tenancy.User{},
		&tenancy.GymMembership{},
		&chat.Room{},
		&chat.Membership{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("dialect", db.Dialector.Name()))
	}

	return db, nil
}

func dialectorFor(dsn string) (gorm.Dialector, bool) {
	lowered := strings.ToLower(dsn)
	if strings.HasPrefix(lowered, "postgres://") || strings.HasPrefix(lowered, "postgresql://") {
		return postgres.Open(dsn), false
	}
	return sqlite.Open(dsn), true
}
