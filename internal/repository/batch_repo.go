package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"gorm.io/gorm"
)

type BatchListParams struct {
	Status *domain.BatchStatus
	Page   int
	Limit  int
}

type BatchRepository interface {
	CreateWithRequisitions(ctx context.Context, b *domain.Batch, requisitions []*domain.Requisition) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	GetWithRequisitions(ctx context.Context, id string) (*domain.Batch, error)
	List(ctx context.Context, params BatchListParams) ([]domain.Batch, int64, error)
	UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error
	MarkEnqueueFailed(ctx context.Context, id string, message string) error
	UpdateCounts(ctx context.Context, id string, counts domain.BatchCounts) error
	ResetForRetry(ctx context.Context, id string) (int64, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// CreateWithRequisitions inserts the batch and all of its requisitions in one transaction.
func (r *GormBatchRepo) CreateWithRequisitions(ctx context.Context, b *domain.Batch, requisitions []*domain.Requisition) error {
	batchModel := batchModelFromDomain(b)
	if batchModel == nil {
		return nil
	}

	models := make([]RequisitionModel, 0, len(requisitions))
	modelIndexes := make([]int, 0, len(requisitions))
	for i, req := range requisitions {
		model := requisitionModelFromDomain(req)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Requisitions").Create(batchModel).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		return tx.CreateInBatches(&models, 100).Error
	})
	if err != nil {
		return err
	}

	*b = *batchModelToDomain(batchModel)
	for i := range models {
		idx := modelIndexes[i]
		if idx < len(requisitions) && requisitions[idx] != nil {
			*requisitions[idx] = *requisitionModelToDomain(&models[i])
		}
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) GetWithRequisitions(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).
		Preload("Requisitions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) List(ctx context.Context, params BatchListParams) ([]domain.Batch, int64, error) {
	query := r.db.WithContext(ctx).Model(&BatchModel{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []BatchModel
	err := query.
		Order("created_at DESC").
		Offset((params.Page - 1) * params.Limit).
		Limit(params.Limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches, total, nil
}

func (r *GormBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkEnqueueFailed returns a batch whose jobs could not be published to PENDING so
// RetryBatch can pick it up again.
func (r *GormBatchRepo) MarkEnqueueFailed(ctx context.Context, id string, message string) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.BatchStatusPending,
			"error_message": message,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormBatchRepo) UpdateCounts(ctx context.Context, id string, counts domain.BatchCounts) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_items":  counts.Processed,
			"successful_items": counts.Successful,
			"failed_items":     counts.Failed,
			"status":           counts.Status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResetForRetry moves FAILED requisitions back to PENDING and zeroes the batch counters.
// It returns the number of requisitions reset.
func (r *GormBatchRepo) ResetForRetry(ctx context.Context, id string) (int64, error) {
	var reset int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RequisitionModel{}).
			Where("batch_id = ? AND status = ?", id, domain.RequisitionStatusFailed).
			Updates(map[string]any{
				"status":        domain.RequisitionStatusPending,
				"error_message": nil,
				"attempt_count": 0,
				"retryable":     false,
				"next_retry_at": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		reset = result.RowsAffected

		result = tx.Model(&BatchModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":           domain.BatchStatusPending,
				"processed_items":  0,
				"successful_items": 0,
				"failed_items":     0,
				"error_message":    nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}
