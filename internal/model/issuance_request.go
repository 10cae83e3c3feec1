package model

import (
	"time"

	"gorm.io/datatypes"
)

// IssuanceRequest is one queued pipeline run: issue a certificate for a
// domain and deploy it to a target server's site binding. The worker claims
// pending requests with an optimistic lock and records per-stage outcomes.
type IssuanceRequest struct {
	ID                int            `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID             string         `gorm:"type:varchar(36);not null;uniqueIndex" json:"runId"`
	Domain            string         `gorm:"type:varchar(255);not null;index" json:"domain"`
	Target            string         `gorm:"type:varchar(255);not null" json:"target"` // Target server admin API host
	Site              string         `gorm:"type:varchar(255);not null" json:"site"`
	Port              int            `gorm:"not null;default:443" json:"port"`
	Environment       string         `gorm:"type:varchar(20);not null;default:production" json:"environment"` // production|staging
	Status            string         `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`   // pending|running|success|failed
	Attempts          int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts       int            `gorm:"not null;default:3" json:"maxAttempts"`
	LastError         string         `gorm:"type:varchar(500)" json:"lastError"`
	StageOutcomes     datatypes.JSON `gorm:"column:stage_outcomes_json" json:"stageOutcomes"` // JSON array of per-stage results
	ResultCertID      *int           `gorm:"column:result_certificate_id;index" json:"resultCertificateId"`
	ResultFingerprint string         `gorm:"type:varchar(64)" json:"resultFingerprint"`
	CreatedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for IssuanceRequest
func (IssuanceRequest) TableName() string {
	return "issuance_requests"
}

// IssuanceRequest status constants
const (
	IssuanceRequestStatusPending = "pending"
	IssuanceRequestStatusRunning = "running"
	IssuanceRequestStatusSuccess = "success"
	IssuanceRequestStatusFailed  = "failed"
)

// Environment constants
const (
	EnvironmentProduction = "production"
	EnvironmentStaging    = "staging"
)
