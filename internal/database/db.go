package database

import (
	"time"

	"taxcore/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewConnection initializes a new connection pool using GORM and migrates the
// tax schema. Migration failures are logged, not fatal.
func NewConnection(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db); err != nil {
		log.Warn("failed to auto-migrate models", zap.Error(err))
	}

	return db, nil
}

// systemTaxSlugIndex closes the gap left by idx_taxes_owner_slug: Postgres
// treats NULL owner ids as distinct, so system slugs need their own index.
const systemTaxSlugIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_taxes_system_slug
	ON taxes (owner_type, slug) WHERE owner_id IS NULL`

// Migrate creates or updates the tax tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Tax{},
		&model.TaxGroup{},
		&model.TaxRate{},
		&model.TaxAssignment{},
		&model.AuditLog{},
	); err != nil {
		return err
	}
	return EnsureIndexes(db)
}

// EnsureIndexes creates the indexes gorm tags cannot express.
func EnsureIndexes(db *gorm.DB) error {
	return db.Exec(systemTaxSlugIndex).Error
}
