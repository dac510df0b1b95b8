package account

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pysugar/casdoor-dify-bridge/internal/db/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Account{}, &models.AccountIntegrate{},
		&models.Tenant{}, &models.TenantAccountJoin{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func alice() Identity {
	return Identity{Email: "alice@example.com", SubjectID: "casdoor-123"}
}

func TestProvisionRequiresEmailAndSubject(t *testing.T) {
	p := NewProvisioner(newTestDB(t))

	tests := []struct {
		name     string
		identity Identity
	}{
		{name: "missing email", identity: Identity{SubjectID: "casdoor-123"}},
		{name: "missing subject", identity: Identity{Email: "alice@example.com"}},
		{name: "both missing", identity: Identity{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Provision(context.Background(), tt.identity); !errors.Is(err, ErrInsufficientIdentity) {
				t.Fatalf("Provision() error = %v, want ErrInsufficientIdentity", err)
			}
		})
	}
}

func TestProvisionFirstLogin(t *testing.T) {
	db := newTestDB(t)
	p := NewProvisioner(db)

	result, err := p.Provision(context.Background(), alice())
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}

	var acct models.Account
	if err := db.First(&acct, "id = ?", result.AccountID).Error; err != nil {
		t.Fatalf("account not created: %v", err)
	}
	if acct.Email != "alice@example.com" {
		t.Errorf("Email = %q", acct.Email)
	}
	if acct.Name != "alice" {
		t.Errorf("Name = %q, want local part of email", acct.Name)
	}
	if acct.Status != "active" {
		t.Errorf("Status = %q", acct.Status)
	}
	if acct.InitializedAt.IsZero() {
		t.Error("InitializedAt not set")
	}

	var link models.AccountIntegrate
	if err := db.First(&link, "account_id = ?", acct.ID).Error; err != nil {
		t.Fatalf("identity link not created: %v", err)
	}
	if link.Provider != ProviderCasdoor || link.OpenID != "casdoor-123" {
		t.Errorf("link = %+v", link)
	}
	if link.EncryptedToken != "" {
		t.Errorf("EncryptedToken = %q, want empty placeholder", link.EncryptedToken)
	}

	var tenant models.Tenant
	if err := db.First(&tenant, "id = ?", result.TenantID).Error; err != nil {
		t.Fatalf("tenant not created: %v", err)
	}
	if tenant.Name != "alice's Workspace" {
		t.Errorf("tenant name = %q", tenant.Name)
	}

	var join models.TenantAccountJoin
	if err := db.First(&join, "tenant_id = ? AND account_id = ?", tenant.ID, acct.ID).Error; err != nil {
		t.Fatalf("membership not created: %v", err)
	}
	if join.Role != "owner" || !join.Current {
		t.Errorf("membership = %+v, want owner/current", join)
	}
}

func TestProvisionUsesDisplayName(t *testing.T) {
	db := newTestDB(t)
	p := NewProvisioner(db)

	identity := alice()
	identity.DisplayName = "Alice"

	result, err := p.Provision(context.Background(), identity)
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}

	var tenant models.Tenant
	if err := db.First(&tenant, "id = ?", result.TenantID).Error; err != nil {
		t.Fatalf("tenant not created: %v", err)
	}
	if tenant.Name != "Alice's Workspace" {
		t.Errorf("tenant name = %q, want \"Alice's Workspace\"", tenant.Name)
	}
}

func TestProvisionIdempotent(t *testing.T) {
	db := newTestDB(t)
	p := NewProvisioner(db)

	first, err := p.Provision(context.Background(), alice())
	if err != nil {
		t.Fatalf("first Provision() error: %v", err)
	}
	second, err := p.Provision(context.Background(), alice())
	if err != nil {
		t.Fatalf("second Provision() error: %v", err)
	}

	if first.AccountID != second.AccountID {
		t.Errorf("account ids differ: %s vs %s", first.AccountID, second.AccountID)
	}
	if first.TenantID != second.TenantID {
		t.Errorf("tenant ids differ: %s vs %s", first.TenantID, second.TenantID)
	}

	counts := []struct {
		table string
		model interface{}
	}{
		{"accounts", &models.Account{}},
		{"account_integrates", &models.AccountIntegrate{}},
		{"tenants", &models.Tenant{}},
		{"tenant_account_joins", &models.TenantAccountJoin{}},
	}
	for _, c := range counts {
		var n int64
		if err := db.Model(c.model).Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", c.table, err)
		}
		if n != 1 {
			t.Errorf("%s rows = %d, want exactly 1", c.table, n)
		}
	}
}

func TestProvisionDistinctEmails(t *testing.T) {
	p := NewProvisioner(newTestDB(t))

	a, err := p.Provision(context.Background(), alice())
	if err != nil {
		t.Fatalf("Provision(alice) error: %v", err)
	}
	b, err := p.Provision(context.Background(), Identity{Email: "bob@example.com", SubjectID: "casdoor-456"})
	if err != nil {
		t.Fatalf("Provision(bob) error: %v", err)
	}

	if a.AccountID == b.AccountID {
		t.Error("distinct emails linked to the same account")
	}
	if a.TenantID == b.TenantID {
		t.Error("distinct accounts share a tenant")
	}
}

func TestProvisionRefreshesOpenID(t *testing.T) {
	db := newTestDB(t)
	p := NewProvisioner(db)

	result, err := p.Provision(context.Background(), alice())
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}

	relinked := alice()
	relinked.SubjectID = "casdoor-999"
	if _, err := p.Provision(context.Background(), relinked); err != nil {
		t.Fatalf("second Provision() error: %v", err)
	}

	var links []models.AccountIntegrate
	if err := db.Where("account_id = ?", result.AccountID).Find(&links).Error; err != nil {
		t.Fatalf("load links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("link rows = %d, want 1", len(links))
	}
	if links[0].OpenID != "casdoor-999" {
		t.Errorf("open_id = %q, want overwritten value", links[0].OpenID)
	}
}

func TestProvisionReusesExistingAccount(t *testing.T) {
	db := newTestDB(t)
	existing := models.Account{
		ID:     uuid.New().String(),
		Email:  "alice@example.com",
		Name:   "Alice Original",
		Status: "active",
	}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}

	p := NewProvisioner(db)
	result, err := p.Provision(context.Background(), alice())
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if result.AccountID != existing.ID {
		t.Errorf("AccountID = %s, want existing %s", result.AccountID, existing.ID)
	}

	var acct models.Account
	if err := db.First(&acct, "id = ?", existing.ID).Error; err != nil {
		t.Fatalf("load account: %v", err)
	}
	if acct.Name != "Alice Original" {
		t.Errorf("existing account renamed to %q", acct.Name)
	}
}
