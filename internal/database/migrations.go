package database

import (
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Principal{},
		&models.PrincipalPreferences{},
		&models.Session{},
		&models.SecurityEvent{},
		&models.SyncRecord{},
		&models.TOTPSecret{},
		&models.BackupCode{},
	)
}
