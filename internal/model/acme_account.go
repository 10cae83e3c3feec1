package model

import "time"

// AcmeAccount caches an ACME account registration for a directory URL.
// The account is keyed by the SHA256 fingerprint of its private key, so
// repeated runs with the same key material resolve to the same registration.
type AcmeAccount struct {
	ID             int       `gorm:"primaryKey;autoIncrement" json:"id"`
	DirectoryURL   string    `gorm:"type:varchar(500);not null;index:idx_directory_key" json:"directoryUrl"`
	KeyFingerprint string    `gorm:"type:varchar(64);not null;index:idx_directory_key" json:"keyFingerprint"`
	Contact        string    `gorm:"type:varchar(255);not null" json:"contact"`
	AccountURI     string    `gorm:"type:varchar(500)" json:"accountUri"` // Assigned by the ACME server on registration
	Status         string    `gorm:"type:varchar(20);not null;default:pending" json:"status"` // pending|valid|deactivated
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for AcmeAccount
func (AcmeAccount) TableName() string {
	return "acme_accounts"
}

// AcmeAccount status constants
const (
	AcmeAccountStatusPending     = "pending"
	AcmeAccountStatusValid       = "valid"
	AcmeAccountStatusDeactivated = "deactivated"
)
