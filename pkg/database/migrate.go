package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Migrate creates or updates the tables of the given models
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Debug().Int("models", len(models)).Msg("Database migrations completed")
	return nil
}

// Reset drops and recreates the tables of the given models
func Reset(db *gorm.DB, models ...any) error {
	if err := db.Migrator().DropTable(models...); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	return Migrate(db, models...)
}

// HasTable checks if a table exists
func HasTable(db *gorm.DB, model any) bool {
	return db.Migrator().HasTable(model)
}
