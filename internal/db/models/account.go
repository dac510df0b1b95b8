package models

import "time"

// Account is the local application's representation of a user. One account
// per email, enforced by the unique index.
type Account struct {
	ID            string `gorm:"primaryKey"` // UUID
	Email         string `gorm:"uniqueIndex"`
	Name          string
	Status        string `gorm:"default:active"`
	InitializedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccountIntegrate links an external identity to a local account. At most one
// link per (account, provider) pair; open_id is refreshed on every login.
type AccountIntegrate struct {
	ID             string `gorm:"primaryKey"` // UUID
	AccountID      string `gorm:"uniqueIndex:idx_account_provider"`
	Provider       string `gorm:"uniqueIndex:idx_account_provider"`
	OpenID         string
	EncryptedToken string // NOT NULL in the upstream schema; empty placeholder here
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
