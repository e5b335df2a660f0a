package database

import (
	"errors"
	"time"

	"github.com/portside-labs/minichat/backend/internal/admin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRegistrationModeFromToggle = "2026-05-20_registration_mode_from_toggle"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRegistrationModeFromToggle, apply: registrationModeFromToggle},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Early deployments stored a boolean registration_enabled toggle; the
// settings schema has since moved to the four-valued registration_mode.
func registrationModeFromToggle(db *gorm.DB) error {
	var legacy admin.Setting
	err := db.Where("key = ?", "registration_enabled").Take(&legacy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	mode := admin.RegistrationClosed
	if legacy.Value == "true" {
		mode = admin.RegistrationOpen
	}
	if err := db.Create(&admin.Setting{Key: "registration_mode", Value: string(mode)}).Error; err != nil {
		return err
	}
	return db.Where("key = ?", "registration_enabled").Delete(&admin.Setting{}).Error
}
