package pipeline

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"certops/internal/model"
)

// Journal is the append-only audit trail of pipeline stage transitions
type Journal interface {
	Record(runID, domain, stage, level, message string)
}

// DBJournal persists entries to the activity_logs table. A failed insert is
// logged and swallowed; the audit trail never blocks the pipeline.
type DBJournal struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// NewDBJournal creates a database-backed journal
func NewDBJournal(db *gorm.DB, logger *logrus.Entry) *DBJournal {
	return &DBJournal{
		db:     db,
		logger: logger.WithField("component", "journal"),
	}
}

func (j *DBJournal) Record(runID, domain, stage, level, message string) {
	if len(message) > 500 {
		message = message[:500]
	}
	entry := &model.ActivityLog{
		RunID:   runID,
		Domain:  domain,
		Stage:   stage,
		Level:   level,
		Message: message,
	}
	if err := j.db.Create(entry).Error; err != nil {
		j.logger.Warnf("failed to record activity for run %s: %v", runID, err)
	}
}

// NopJournal discards entries. Used by the one-shot CLI, which has no
// database.
type NopJournal struct{}

func (NopJournal) Record(_, _, _, _, _ string) {}
