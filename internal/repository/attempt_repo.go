package repository

import (
	"context"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"gorm.io/gorm"
)

var (
	completedOutcomes = []domain.AttemptOutcome{domain.AttemptOutcomeCreated, domain.AttemptOutcomeSubmitted, domain.AttemptOutcomeSkipped}
	failedOutcomes    = []domain.AttemptOutcome{domain.AttemptOutcomeFailed, domain.AttemptOutcomeDuplicate}
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.RequisitionAttempt) error
	GetByRequisitionID(ctx context.Context, requisitionID string) ([]domain.RequisitionAttempt, error)
	Prune(ctx context.Context, keepCompleted, keepFailed int) (int64, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.RequisitionAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) GetByRequisitionID(ctx context.Context, requisitionID string) ([]domain.RequisitionAttempt, error) {
	var models []RequisitionAttemptModel
	err := r.db.WithContext(ctx).
		Where("requisition_id = ?", requisitionID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.RequisitionAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

// Prune keeps only the newest keepCompleted successful and keepFailed failed attempts.
func (r *GormAttemptRepo) Prune(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := pruneOutcomes(tx, completedOutcomes, keepCompleted)
		if err != nil {
			return err
		}
		deleted += n

		n, err = pruneOutcomes(tx, failedOutcomes, keepFailed)
		if err != nil {
			return err
		}
		deleted += n
		return nil
	})
	return deleted, err
}

func pruneOutcomes(tx *gorm.DB, outcomes []domain.AttemptOutcome, keep int) (int64, error) {
	newest := tx.Model(&RequisitionAttemptModel{}).
		Select("id").
		Where("outcome IN ?", outcomes).
		Order("created_at DESC").
		Limit(keep)

	result := tx.Where("outcome IN ? AND id NOT IN (?)", outcomes, newest).
		Delete(&RequisitionAttemptModel{})
	return result.RowsAffected, result.Error
}
