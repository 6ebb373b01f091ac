package models

import "time"

const (
	QuickbooksProvider = "quickbooks"
)

// QuickbooksConnection holds the OAuth credential state for one realm.
// Token/expiry fields are written only by the token manager (and the
// connect/revoke handlers); one row per realm id.
type QuickbooksConnection struct {
	ID                    uint       `gorm:"primary_key" json:"id"`
	BusinessId            string     `gorm:"index;not null" json:"business_id"`
	RealmId               string     `gorm:"uniqueIndex:idx_qb_connection_realm;size:64;not null" json:"realm_id"`
	CompanyName           string     `gorm:"size:255" json:"company_name"`
	AccessToken           string     `gorm:"type:text" json:"-"`
	RefreshToken          string     `gorm:"type:text" json:"-"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at"`
	Connected             bool       `gorm:"not null;default:false" json:"connected"`
	ConnectedAt           *time.Time `json:"connected_at"`
	DisconnectedAt        *time.Time `json:"disconnected_at"`
	// LockVersion guards concurrent token writes; refresh persists with a
	// compare-and-swap on this column because the refresh token rotates on use.
	LockVersion int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
