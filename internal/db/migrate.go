package db

import (
	"fmt"

	"certops/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all persisted models
func Migrate(db *gorm.DB) error {
	models := []interface{}{
		&model.AcmeAccount{},
		&model.IssuanceRequest{},
		&model.Certificate{},
		&model.ActivityLog{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	logrus.WithField("component", "db").Infof("migrated %d tables", len(models))
	return nil
}
