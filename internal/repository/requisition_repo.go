package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatusSummary is one row of the per-status count for a batch.
type StatusSummary struct {
	Status domain.RequisitionStatus `gorm:"column:status"`
	Count  int                      `gorm:"column:count"`
}

// CreatedResult carries the ERP identifiers returned by a successful create.
type CreatedResult struct {
	FusionRequisitionID string
	RequisitionNumber   *string
	Response            map[string]any
}

// FailureUpdate describes a failed processing attempt.
type FailureUpdate struct {
	Message      string
	AttemptCount int
	Retryable    bool
	NextRetryAt  *time.Time
}

type RequisitionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Requisition, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.Requisition, error)
	GetBatchSummary(ctx context.Context, batchID string) ([]StatusSummary, error)
	MarkCreated(ctx context.Context, id string, result CreatedResult) error
	MarkSubmitted(ctx context.Context, id string, response map[string]any, submittedAt time.Time) error
	MarkFailed(ctx context.Context, id string, update FailureUpdate) error
	MarkDecision(ctx context.Context, id string, status domain.RequisitionStatus, decidedAt time.Time, response map[string]any) error
	GetDueForRetry(ctx context.Context, limit int) ([]domain.Requisition, error)
	ClaimForRetry(ctx context.Context, id string) (*domain.Requisition, error)
	ReleaseClaim(ctx context.Context, id string, nextRetryAt time.Time) error
	ListSubmitted(ctx context.Context, limit int, checkedAt time.Time) ([]domain.Requisition, error)
}

type GormRequisitionRepo struct {
	db *gorm.DB
}

func NewGormRequisitionRepo(db *gorm.DB) *GormRequisitionRepo {
	return &GormRequisitionRepo{db: db}
}

func (r *GormRequisitionRepo) GetByID(ctx context.Context, id string) (*domain.Requisition, error) {
	var model RequisitionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return requisitionModelToDomain(&model), nil
}

func (r *GormRequisitionRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.Requisition, error) {
	var models []RequisitionModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return requisitionsToDomain(models), nil
}

func (r *GormRequisitionRepo) GetBatchSummary(ctx context.Context, batchID string) ([]StatusSummary, error) {
	var summaries []StatusSummary
	err := r.db.WithContext(ctx).
		Model(&RequisitionModel{}).
		Select("status, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *GormRequisitionRepo) MarkCreated(ctx context.Context, id string, result CreatedResult) error {
	return r.update(ctx, id, map[string]any{
		"status":                domain.RequisitionStatusCreated,
		"fusion_requisition_id": result.FusionRequisitionID,
		"requisition_number":    result.RequisitionNumber,
		"response_payload":      jsonMap(result.Response),
		"error_message":         nil,
		"retryable":             false,
		"next_retry_at":         nil,
	})
}

func (r *GormRequisitionRepo) MarkSubmitted(ctx context.Context, id string, response map[string]any, submittedAt time.Time) error {
	fields := map[string]any{
		"status":        domain.RequisitionStatusSubmitted,
		"submitted":     true,
		"submitted_at":  submittedAt,
		"error_message": nil,
		"retryable":     false,
		"next_retry_at": nil,
	}
	if response != nil {
		fields["response_payload"] = jsonMap(response)
	}
	return r.update(ctx, id, fields)
}

func (r *GormRequisitionRepo) MarkFailed(ctx context.Context, id string, update FailureUpdate) error {
	return r.update(ctx, id, map[string]any{
		"status":        domain.RequisitionStatusFailed,
		"error_message": update.Message,
		"attempt_count": update.AttemptCount,
		"retryable":     update.Retryable,
		"next_retry_at": update.NextRetryAt,
	})
}

// MarkDecision records an approval outcome reported by the ERP for a submitted requisition.
func (r *GormRequisitionRepo) MarkDecision(ctx context.Context, id string, status domain.RequisitionStatus, decidedAt time.Time, response map[string]any) error {
	fields := map[string]any{"status": status}
	if status == domain.RequisitionStatusApproved {
		fields["approved_at"] = decidedAt
	}
	if response != nil {
		fields["response_payload"] = jsonMap(response)
	}

	result := r.db.WithContext(ctx).
		Model(&RequisitionModel{}).
		Where("id = ? AND status = ?", id, domain.RequisitionStatusSubmitted).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormRequisitionRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Requisition, error) {
	var models []RequisitionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND retryable = ? AND next_retry_at <= ?", domain.RequisitionStatusFailed, true, time.Now()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return requisitionsToDomain(models), nil
}

// ClaimForRetry locks a due requisition and moves it back to PENDING. It returns nil
// when another scanner already claimed it or it is no longer due.
func (r *GormRequisitionRepo) ClaimForRetry(ctx context.Context, id string) (*domain.Requisition, error) {
	var claimed *domain.Requisition
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model RequisitionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if model.Status != domain.RequisitionStatusFailed || !model.Retryable ||
			model.NextRetryAt == nil || model.NextRetryAt.After(time.Now()) {
			return nil
		}

		if err := tx.Model(&model).Updates(map[string]any{
			"status":        domain.RequisitionStatusPending,
			"retryable":     false,
			"next_retry_at": nil,
		}).Error; err != nil {
			return err
		}
		model.Status = domain.RequisitionStatusPending
		model.Retryable = false
		model.NextRetryAt = nil
		claimed = requisitionModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseClaim returns a claimed requisition to the retry schedule when it could not be enqueued.
func (r *GormRequisitionRepo) ReleaseClaim(ctx context.Context, id string, nextRetryAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&RequisitionModel{}).
		Where("id = ? AND status = ?", id, domain.RequisitionStatusPending).
		Updates(map[string]any{
			"status":        domain.RequisitionStatusFailed,
			"retryable":     true,
			"next_retry_at": nextRetryAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ListSubmitted returns up to limit submitted requisitions, least recently checked first,
// and stamps them with checkedAt so later polls move on to the rest.
func (r *GormRequisitionRepo) ListSubmitted(ctx context.Context, limit int, checkedAt time.Time) ([]domain.Requisition, error) {
	var models []RequisitionModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND fusion_requisition_id IS NOT NULL", domain.RequisitionStatusSubmitted).
			Order("approval_checked_at ASC NULLS FIRST, updated_at ASC").
			Limit(limit).
			Find(&models).Error
		if err != nil || len(models) == 0 {
			return err
		}

		ids := make([]string, 0, len(models))
		for i := range models {
			ids = append(ids, models[i].ID)
			models[i].ApprovalCheckedAt = &checkedAt
		}
		return tx.Model(&RequisitionModel{}).
			Where("id IN ?", ids).
			UpdateColumn("approval_checked_at", checkedAt).Error
	})
	if err != nil {
		return nil, err
	}
	return requisitionsToDomain(models), nil
}

func (r *GormRequisitionRepo) update(ctx context.Context, id string, fields map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&RequisitionModel{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func requisitionsToDomain(models []RequisitionModel) []domain.Requisition {
	requisitions := make([]domain.Requisition, 0, len(models))
	for i := range models {
		requisitions = append(requisitions, *requisitionModelToDomain(&models[i]))
	}
	return requisitions
}
