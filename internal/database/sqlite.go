package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/portside-labs/minichat/backend/internal/admin"
	"github.com/portside-labs/minichat/backend/internal/auth"
	"github.com/portside-labs/minichat/backend/internal/messages"
	"github.com/portside-labs/minichat/backend/internal/rooms"
	"github.com/portside-labs/minichat/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate brings the schema up to date on any gorm connection. Exposed
// separately so tests can run against an in-memory database.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&rooms.Room{},
		&rooms.Membership{},
		&messages.Message{},
		&users.User{},
		&users.PendingUser{},
		&users.Preference{},
		&admin.Setting{},
		&admin.InviteToken{},
		&auth.Challenge{},
		&migrationRecord{},
	); err != nil {
		return err
	}

	return applyMigrations(db, logger)
}
