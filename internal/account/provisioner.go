// Package account maps a verified external identity onto a local account,
// identity link and tenant. This is the part of the login flow with real
// invariants: one account per email, one link per (account, provider), and at
// least one tenant per account.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pysugar/casdoor-dify-bridge/internal/db/models"
)

// ProviderCasdoor is the provider value written to identity links.
const ProviderCasdoor = "casdoor"

// ErrInsufficientIdentity means the verified token lacked the claims needed
// to provision an account (email and a stable subject id).
var ErrInsufficientIdentity = errors.New("insufficient user information from casdoor")

// ProvisioningError wraps a database failure during account/tenant/link upsert.
type ProvisioningError struct {
	Err error
}

func (e *ProvisioningError) Error() string { return fmt.Sprintf("provisioning failed: %v", e.Err) }
func (e *ProvisioningError) Unwrap() error { return e.Err }

// Identity is a verified external identity, as extracted from an id_token.
type Identity struct {
	Email       string
	DisplayName string
	SubjectID   string
}

// Result identifies the provisioned account and its workspace.
type Result struct {
	AccountID string
	TenantID  string
}

// Provisioner performs the find-or-create login flow against the relational
// store. All writes for one login happen in a single transaction.
type Provisioner struct {
	db *gorm.DB
}

func NewProvisioner(db *gorm.DB) *Provisioner {
	return &Provisioner{db: db}
}

// Provision finds or creates the account for the identity's email, upserts
// its Casdoor identity link, and ensures a workspace exists. Idempotent:
// repeat calls for the same identity return the same account and tenant.
//
// Two concurrent first logins for the same email are serialized by the unique
// index on accounts.email: the loser's transaction fails with a duplicate-key
// error and a single retry finds the account the winner committed. The same
// applies to the identity-link and membership unique indexes.
func (p *Provisioner) Provision(ctx context.Context, identity Identity) (*Result, error) {
	if identity.Email == "" || identity.SubjectID == "" {
		return nil, ErrInsufficientIdentity
	}

	result, err := p.provisionOnce(ctx, identity)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		result, err = p.provisionOnce(ctx, identity)
	}
	if err != nil {
		return nil, &ProvisioningError{Err: err}
	}
	return result, nil
}

func (p *Provisioner) provisionOnce(ctx context.Context, identity Identity) (*Result, error) {
	var result Result
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := findOrCreateAccount(tx, identity)
		if err != nil {
			return err
		}
		if err := upsertIdentityLink(tx, acct.ID, identity.SubjectID); err != nil {
			return err
		}
		tenant, err := ensureTenant(tx, acct)
		if err != nil {
			return err
		}
		result = Result{AccountID: acct.ID, TenantID: tenant.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func findOrCreateAccount(tx *gorm.DB, identity Identity) (*models.Account, error) {
	var acct models.Account
	err := tx.Where("email = ?", identity.Email).First(&acct).Error
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	name := identity.DisplayName
	if name == "" {
		name = localPart(identity.Email)
	}
	acct = models.Account{
		ID:            uuid.New().String(),
		Email:         identity.Email,
		Name:          name,
		Status:        "active",
		InitializedAt: time.Now().UTC(),
	}
	if err := tx.Create(&acct).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

func upsertIdentityLink(tx *gorm.DB, accountID, openID string) error {
	var link models.AccountIntegrate
	err := tx.Where("account_id = ? AND provider = ?", accountID, ProviderCasdoor).First(&link).Error
	if err == nil {
		return tx.Model(&link).Update("open_id", openID).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	link = models.AccountIntegrate{
		ID:             uuid.New().String(),
		AccountID:      accountID,
		Provider:       ProviderCasdoor,
		OpenID:         openID,
		EncryptedToken: "", // upstream schema requires NOT NULL
	}
	return tx.Create(&link).Error
}

func ensureTenant(tx *gorm.DB, acct *models.Account) (*models.Tenant, error) {
	var tenant models.Tenant
	err := tx.
		Select("tenants.*").
		Joins("JOIN tenant_account_joins ON tenant_account_joins.tenant_id = tenants.id").
		Where("tenant_account_joins.account_id = ?", acct.ID).
		First(&tenant).Error
	if err == nil {
		return &tenant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tenant = models.Tenant{
		ID:   uuid.New().String(),
		Name: fmt.Sprintf("%s's Workspace", acct.Name),
	}
	if err := tx.Create(&tenant).Error; err != nil {
		return nil, err
	}

	join := models.TenantAccountJoin{
		ID:        uuid.New().String(),
		TenantID:  tenant.ID,
		AccountID: acct.ID,
		Role:      "owner",
		Current:   true,
	}
	if err := tx.Create(&join).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func localPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
