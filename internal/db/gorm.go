package db

import (
	"fmt"
	"log"

	"codoc/internal/config"
	"codoc/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the Postgres connection and migrates the schema.
func NewGorm(cfg *config.Config) (*GormDB, error) {
	dsn := cfg.DatabaseURL()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Document{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// GIN index backs the "editors @> ARRAY[...]" filter used by document listings.
	err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_documents_editors
		ON documents USING gin (editors)
	`).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create editors index: %w", err)
	}

	log.Println("✓ Database connected and migrated successfully")

	return &GormDB{db}, nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
