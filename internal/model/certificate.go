package model

import "time"

// Certificate represents an issued SSL/TLS certificate
type Certificate struct {
	ID          int       `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain      string    `gorm:"type:varchar(255);not null;index" json:"domain"`
	Fingerprint string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"fingerprint"`
	Status      string    `gorm:"type:varchar(20);not null;default:issued" json:"status"` // issued|deployed|expired
	CertPem     string    `gorm:"type:text;not null" json:"certPem"`
	ChainPem    string    `gorm:"type:text" json:"chainPem"`
	Issuer      string    `gorm:"type:varchar(255)" json:"issuer"`
	ExpiresAt   time.Time `gorm:"not null" json:"expiresAt"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for Certificate
func (Certificate) TableName() string {
	return "certificates"
}

// Certificate status constants
const (
	CertificateStatusIssued   = "issued"
	CertificateStatusDeployed = "deployed"
	CertificateStatusExpired  = "expired"
)
