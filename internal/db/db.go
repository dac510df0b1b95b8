// Package db opens the relational store holding accounts, identity links and
// tenants, and checks at startup that the expected schema is present.
package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pysugar/casdoor-dify-bridge/internal/db/models"
)

// SchemaMissingError indicates an expected table is absent from the backing
// database. This is a deployment misconfiguration: fatal, never retryable.
type SchemaMissingError struct {
	Table string
}

func (e *SchemaMissingError) Error() string {
	return fmt.Sprintf("table %q not found in database schema", e.Table)
}

// Open connects to the backing store. A postgres:// or postgresql:// DSN uses
// the Postgres driver; anything else is treated as a SQLite file path, which
// keeps dev setups and tests dependency-free.
func Open(databaseURL string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		dialector = postgres.Open(databaseURL)
	} else {
		dialector = sqlite.Open(databaseURL)
	}

	return gorm.Open(dialector, cfg)
}

// requiredModels lists every table the login flow touches.
var requiredModels = []interface{}{
	&models.Account{},
	&models.AccountIntegrate{},
	&models.Tenant{},
	&models.TenantAccountJoin{},
}

// CheckSchema verifies all required tables exist. Run once at startup; the
// request path assumes the schema is in place.
func CheckSchema(db *gorm.DB) error {
	for _, model := range requiredModels {
		if !db.Migrator().HasTable(model) {
			stmt := &gorm.Statement{DB: db}
			_ = stmt.Parse(model)
			return &SchemaMissingError{Table: stmt.Schema.Table}
		}
	}
	return nil
}

// AutoMigrate creates the required tables. Only for deployments where this
// service owns the database; against a shared Dify database use CheckSchema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(requiredModels...)
}
