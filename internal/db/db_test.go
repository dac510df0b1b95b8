package db

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/pysugar/casdoor-dify-bridge/internal/db/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return gdb
}

func TestCheckSchemaReportsMissingTable(t *testing.T) {
	gdb := openTestDB(t)

	err := CheckSchema(gdb)
	if err == nil {
		t.Fatal("CheckSchema() should fail on an empty database")
	}

	var schemaErr *SchemaMissingError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("error type = %T, want *SchemaMissingError", err)
	}
	if schemaErr.Table != "accounts" {
		t.Errorf("Table = %q, want accounts", schemaErr.Table)
	}
	if !strings.Contains(err.Error(), "accounts") {
		t.Errorf("error text should name the table, got %q", err.Error())
	}
}

func TestCheckSchemaAfterMigrate(t *testing.T) {
	gdb := openTestDB(t)

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate() error: %v", err)
	}
	if err := CheckSchema(gdb); err != nil {
		t.Fatalf("CheckSchema() error after migrate: %v", err)
	}
}

func TestUniqueEmailConstraint(t *testing.T) {
	gdb := openTestDB(t)
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate() error: %v", err)
	}

	first := models.Account{ID: "a-1", Email: "alice@example.com", Name: "alice"}
	if err := gdb.Create(&first).Error; err != nil {
		t.Fatalf("create first account: %v", err)
	}

	// Two concurrent first logins hinge on this constraint surfacing as a
	// translated duplicate-key error the provisioner can retry on.
	dup := models.Account{ID: "a-2", Email: "alice@example.com", Name: "alice"}
	if err := gdb.Create(&dup).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("duplicate create error = %v, want gorm.ErrDuplicatedKey", err)
	}
}

func TestUniqueIdentityLinkConstraint(t *testing.T) {
	gdb := openTestDB(t)
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate() error: %v", err)
	}

	first := models.AccountIntegrate{ID: "l-1", AccountID: "a-1", Provider: "casdoor", OpenID: "x"}
	if err := gdb.Create(&first).Error; err != nil {
		t.Fatalf("create first link: %v", err)
	}

	dup := models.AccountIntegrate{ID: "l-2", AccountID: "a-1", Provider: "casdoor", OpenID: "y"}
	if err := gdb.Create(&dup).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("duplicate link error = %v, want gorm.ErrDuplicatedKey", err)
	}
}
