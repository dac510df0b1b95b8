package models

import "time"

// Tenant is a workspace an account belongs to. Every account gets one,
// created lazily on first login.
type Tenant struct {
	ID        string `gorm:"primaryKey"` // UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantAccountJoin is the membership row between a tenant and an account.
// The first membership created for an account is the owner of its workspace.
type TenantAccountJoin struct {
	ID        string `gorm:"primaryKey"` // UUID
	TenantID  string `gorm:"uniqueIndex:idx_tenant_account"`
	AccountID string `gorm:"uniqueIndex:idx_tenant_account"`
	Role      string
	Current   bool `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
