package db

import (
	"fmt"
	"log"

	"lostmatch/internal/config"
	"lostmatch/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm initializes a new GORM database connection
func NewGorm(cfg *config.Config) (*GormDB, error) {
	dsn := cfg.DatabaseURL()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Enable pgvector extension
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	// Auto-migrate schema
	// Note: models.Case is intentionally excluded - the cases table belongs
	// to the main application; the engine only reads it.
	if err := db.AutoMigrate(
		&models.VisualFingerprint{},
		&models.PhotoMatch{},
		&models.MatchFeedback{},
		&models.WeightProfile{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Vector index for the neural cascade stage
	// Done manually since GORM doesn't have built-in vector index support
	err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_fingerprints_embedding
		ON visual_fingerprints USING ivfflat (embedding vector_cosine_ops)
	`).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	// Partial unique index: exactly one active version per profile name.
	// The promotion transaction relies on this to never leave two actives.
	err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_weight_profiles_one_active
		ON weight_profiles (config_name)
		WHERE is_active AND deleted_at IS NULL
	`).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create active-profile index: %w", err)
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
