package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"certops/internal/model"
)

// Store provides issuance request and certificate persistence
type Store struct {
	db *gorm.DB
}

// NewStore creates a store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateRequest enqueues a new issuance request, assigning a run ID if the
// caller did not.
func (s *Store) CreateRequest(request *model.IssuanceRequest) error {
	if request.RunID == "" {
		request.RunID = uuid.NewString()
	}
	if request.Port == 0 {
		request.Port = 443
	}
	if request.Environment == "" {
		request.Environment = model.EnvironmentProduction
	}
	if request.MaxAttempts <= 0 {
		request.MaxAttempts = 3
	}
	request.Status = model.IssuanceRequestStatusPending
	return s.db.Create(request).Error
}

// GetRequest returns a request by ID, or nil when it does not exist
func (s *Store) GetRequest(id int) (*model.IssuanceRequest, error) {
	var request model.IssuanceRequest
	err := s.db.First(&request, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// GetRequestByRunID returns a request by its run ID, or nil
func (s *Store) GetRequestByRunID(runID string) (*model.IssuanceRequest, error) {
	var request model.IssuanceRequest
	err := s.db.Where("run_id = ?", runID).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// ListRequests returns a paginated list, optionally filtered by status or
// domain.
func (s *Store) ListRequests(page, pageSize int, filters map[string]interface{}) ([]model.IssuanceRequest, int64, error) {
	var requests []model.IssuanceRequest
	var total int64

	query := s.db.Model(&model.IssuanceRequest{})
	if status, ok := filters["status"]; ok {
		query = query.Where("status = ?", status)
	}
	if domain, ok := filters["domain"]; ok {
		query = query.Where("domain = ?", domain)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&requests).Error; err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// PendingRequests returns requests the worker should pick up
func (s *Store) PendingRequests(limit int) ([]model.IssuanceRequest, error) {
	var requests []model.IssuanceRequest
	err := s.db.
		Where("status = ?", model.IssuanceRequestStatusPending).
		Where("attempts < max_attempts").
		Order("created_at ASC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

// MarkAsRunning claims a request with an optimistic lock; only one worker
// wins the transition from pending.
func (s *Store) MarkAsRunning(id int) error {
	result := s.db.
		Model(&model.IssuanceRequest{}).
		Where("id = ? AND status = ?", id, model.IssuanceRequestStatusPending).
		Update("status", model.IssuanceRequestStatusRunning)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("request %d already claimed by another worker", id)
	}
	return nil
}

// Complete records the run result on the request: the certificate and final
// status on success, or the attempt bookkeeping and requeue decision on
// failure.
func (s *Store) Complete(request *model.IssuanceRequest, result *RunResult) error {
	stagesJSON, err := json.Marshal(result.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stage outcomes: %w", err)
	}

	if result.Status == model.IssuanceRequestStatusSuccess {
		cert, err := s.saveCertificate(result)
		if err != nil {
			return err
		}
		return s.db.
			Model(&model.IssuanceRequest{}).
			Where("id = ?", request.ID).
			Updates(map[string]interface{}{
				"status":                model.IssuanceRequestStatusSuccess,
				"stage_outcomes_json":   stagesJSON,
				"result_certificate_id": cert.ID,
				"result_fingerprint":    result.Fingerprint,
				"last_error":            "",
			}).Error
	}

	attempts := request.Attempts + 1
	status := model.IssuanceRequestStatusPending
	if attempts >= request.MaxAttempts {
		status = model.IssuanceRequestStatusFailed
	}

	lastError := ""
	if result.Err != nil {
		lastError = result.Err.Error()
		if len(lastError) > 500 {
			lastError = lastError[:500]
		}
	}

	return s.db.
		Model(&model.IssuanceRequest{}).
		Where("id = ?", request.ID).
		Updates(map[string]interface{}{
			"status":              status,
			"attempts":            attempts,
			"stage_outcomes_json": stagesJSON,
			"last_error":          lastError,
		}).Error
}

// ResetRetry requeues a failed request. The error text stays for the audit
// trail; the attempt counter starts over.
func (s *Store) ResetRetry(id int) error {
	result := s.db.
		Model(&model.IssuanceRequest{}).
		Where("id = ? AND status = ?", id, model.IssuanceRequestStatusFailed).
		Updates(map[string]interface{}{
			"status":   model.IssuanceRequestStatusPending,
			"attempts": 0,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("request %d is not in failed state", id)
	}
	return nil
}

// saveCertificate persists the issued certificate, reusing an existing row
// with the same fingerprint. The private key is never stored; it lives only
// in the bundle handed to the target.
func (s *Store) saveCertificate(result *RunResult) (*model.Certificate, error) {
	var existing model.Certificate
	err := s.db.Where("fingerprint = ?", result.Fingerprint).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cert := &model.Certificate{
		Domain:      result.Domain,
		Fingerprint: result.Fingerprint,
		Status:      model.CertificateStatusDeployed,
		CertPem:     result.Artifact.CertPEM,
		ChainPem:    result.Artifact.ChainPEM,
		Issuer:      result.Artifact.Issuer,
		ExpiresAt:   result.Artifact.NotAfter,
	}
	if err := s.db.Create(cert).Error; err != nil {
		return nil, fmt.Errorf("failed to save certificate: %w", err)
	}
	return cert, nil
}

// ListCertificates returns a paginated certificate list
func (s *Store) ListCertificates(page, pageSize int) ([]model.Certificate, int64, error) {
	var certs []model.Certificate
	var total int64

	if err := s.db.Model(&model.Certificate{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := s.db.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&certs).Error; err != nil {
		return nil, 0, err
	}
	return certs, total, nil
}

// ListActivity returns the journal entries for one run, oldest first
func (s *Store) ListActivity(runID string) ([]model.ActivityLog, error) {
	var entries []model.ActivityLog
	err := s.db.Where("run_id = ?", runID).Order("id ASC").Find(&entries).Error
	return entries, err
}
