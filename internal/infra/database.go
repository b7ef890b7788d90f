package infra

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/verilians/VeriPharm-sub000/internal/model"
)

// NewDatabase establishes a GORM connection backed by pgx and runs AutoMigrate.
// TranslateError is required: the reconciliation engine classifies completion
// failures by matching gorm's sentinel constraint errors, which only exist
// when driver errors are translated.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return db, nil
}

// RunMigrations creates or updates all tables.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Branch{},
		&model.User{},
		&model.Product{},
		&model.StockMovement{},
		&model.StockAudit{},
		&model.StockAuditItem{},
		&model.StockCorrection{},
		&model.CorrectionOutbox{},
	)
}
