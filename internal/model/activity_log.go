package model

import "time"

// ActivityLog is one append-only audit entry recording a pipeline stage
// transition. Rows are never updated or deleted.
type ActivityLog struct {
	ID        int       `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string    `gorm:"type:varchar(36);not null;index" json:"runId"`
	Domain    string    `gorm:"type:varchar(255);not null;index" json:"domain"`
	Stage     string    `gorm:"type:varchar(40);not null" json:"stage"`
	Level     string    `gorm:"type:varchar(10);not null;default:info" json:"level"` // info|warn|error
	Message   string    `gorm:"type:varchar(500);not null" json:"message"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name for ActivityLog
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// ActivityLog level constants
const (
	ActivityLevelInfo  = "info"
	ActivityLevelWarn  = "warn"
	ActivityLevelError = "error"
)
