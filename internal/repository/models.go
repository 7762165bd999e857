package repository

import (
	"time"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"gorm.io/datatypes"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID               string             `gorm:"type:uuid;primaryKey"`
	FileName         string             `gorm:"type:varchar(255);not null"`
	OriginalFileName *string            `gorm:"type:varchar(255)"`
	Status           domain.BatchStatus `gorm:"type:varchar(20);not null"`
	TotalItems       int                `gorm:"not null;default:0"`
	ProcessedItems   int                `gorm:"not null;default:0"`
	SuccessfulItems  int                `gorm:"not null;default:0"`
	FailedItems      int                `gorm:"not null;default:0"`
	ErrorMessage     *string            `gorm:"type:text"`
	Metadata         datatypes.JSONMap  `gorm:"type:jsonb"`
	UploadedBy       *string            `gorm:"type:varchar(255)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Requisitions []RequisitionModel `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
}

func (BatchModel) TableName() string {
	return "batches"
}

// RequisitionModel is the persistence model for the requisitions table.
type RequisitionModel struct {
	ID                  string                                        `gorm:"type:uuid;primaryKey"`
	BatchID             string                                        `gorm:"type:uuid;not null;index:idx_requisitions_batch_status,priority:1"`
	BusinessUnit        string                                        `gorm:"type:varchar(255);not null"`
	Requester           string                                        `gorm:"type:varchar(255);not null"`
	DeliverToLocation   *string                                       `gorm:"type:varchar(255)"`
	ExternalReference   *string                                       `gorm:"type:varchar(255);index"`
	RequestPayload      datatypes.JSONType[domain.RequisitionRequest] `gorm:"type:jsonb;not null"`
	Lines               datatypes.JSONSlice[domain.RequisitionLine]   `gorm:"type:jsonb;not null"`
	FusionRequisitionID *string                                       `gorm:"type:varchar(64)"`
	RequisitionNumber   *string                                       `gorm:"type:varchar(64)"`
	ResponsePayload     datatypes.JSONMap                             `gorm:"type:jsonb"`
	Submitted           bool                                          `gorm:"not null;default:false"`
	SubmittedAt         *time.Time
	ApprovedAt          *time.Time
	ErrorMessage        *string                  `gorm:"type:text"`
	Status              domain.RequisitionStatus `gorm:"type:varchar(20);not null;index:idx_requisitions_batch_status,priority:2"`
	AttemptCount        int                      `gorm:"not null;default:0"`
	Retryable           bool                     `gorm:"not null;default:false"`
	NextRetryAt         *time.Time               `gorm:"index"`
	ApprovalCheckedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (RequisitionModel) TableName() string {
	return "requisitions"
}

// RequisitionAttemptModel is the persistence model for requisition_attempts.
type RequisitionAttemptModel struct {
	ID            string                `gorm:"type:uuid;primaryKey"`
	RequisitionID string                `gorm:"type:uuid;not null;index"`
	BatchID       string                `gorm:"type:uuid;not null"`
	AttemptNumber int                   `gorm:"not null"`
	Outcome       domain.AttemptOutcome `gorm:"type:varchar(20);not null"`
	StatusCode    *int                  `gorm:"type:int"`
	Error         *string               `gorm:"type:text"`
	CreatedAt     time.Time
}

func (RequisitionAttemptModel) TableName() string {
	return "requisition_attempts"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	var metadata datatypes.JSONMap
	if b.Metadata != nil {
		metadata = datatypes.JSONMap(b.Metadata)
	}

	return &BatchModel{
		ID:               b.ID,
		FileName:         b.FileName,
		OriginalFileName: b.OriginalFileName,
		Status:           b.Status,
		TotalItems:       b.TotalItems,
		ProcessedItems:   b.ProcessedItems,
		SuccessfulItems:  b.SuccessfulItems,
		FailedItems:      b.FailedItems,
		ErrorMessage:     b.ErrorMessage,
		Metadata:         metadata,
		UploadedBy:       b.UploadedBy,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	b := &domain.Batch{
		ID:               m.ID,
		FileName:         m.FileName,
		OriginalFileName: m.OriginalFileName,
		Status:           m.Status,
		TotalItems:       m.TotalItems,
		ProcessedItems:   m.ProcessedItems,
		SuccessfulItems:  m.SuccessfulItems,
		FailedItems:      m.FailedItems,
		ErrorMessage:     m.ErrorMessage,
		UploadedBy:       m.UploadedBy,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.Metadata != nil {
		b.Metadata = map[string]any(m.Metadata)
	}
	if len(m.Requisitions) > 0 {
		b.Requisitions = make([]domain.Requisition, 0, len(m.Requisitions))
		for i := range m.Requisitions {
			b.Requisitions = append(b.Requisitions, *requisitionModelToDomain(&m.Requisitions[i]))
		}
	}
	return b
}

func requisitionModelFromDomain(r *domain.Requisition) *RequisitionModel {
	if r == nil {
		return nil
	}

	var response datatypes.JSONMap
	if r.ResponsePayload != nil {
		response = datatypes.JSONMap(r.ResponsePayload)
	}
	lines := r.Lines
	if lines == nil {
		lines = []domain.RequisitionLine{}
	}

	return &RequisitionModel{
		ID:                  r.ID,
		BatchID:             r.BatchID,
		BusinessUnit:        r.BusinessUnit,
		Requester:           r.Requester,
		DeliverToLocation:   r.DeliverToLocation,
		ExternalReference:   r.ExternalReference,
		RequestPayload:      datatypes.NewJSONType(r.RequestPayload),
		Lines:               datatypes.JSONSlice[domain.RequisitionLine](lines),
		FusionRequisitionID: r.FusionRequisitionID,
		RequisitionNumber:   r.RequisitionNumber,
		ResponsePayload:     response,
		Submitted:           r.Submitted,
		SubmittedAt:         r.SubmittedAt,
		ApprovedAt:          r.ApprovedAt,
		ErrorMessage:        r.ErrorMessage,
		Status:              r.Status,
		AttemptCount:        r.AttemptCount,
		Retryable:           r.Retryable,
		NextRetryAt:         r.NextRetryAt,
		ApprovalCheckedAt:   r.ApprovalCheckedAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func requisitionModelToDomain(m *RequisitionModel) *domain.Requisition {
	if m == nil {
		return nil
	}

	r := &domain.Requisition{
		ID:                  m.ID,
		BatchID:             m.BatchID,
		BusinessUnit:        m.BusinessUnit,
		Requester:           m.Requester,
		DeliverToLocation:   m.DeliverToLocation,
		ExternalReference:   m.ExternalReference,
		RequestPayload:      m.RequestPayload.Data(),
		Lines:               []domain.RequisitionLine(m.Lines),
		FusionRequisitionID: m.FusionRequisitionID,
		RequisitionNumber:   m.RequisitionNumber,
		Submitted:           m.Submitted,
		SubmittedAt:         m.SubmittedAt,
		ApprovedAt:          m.ApprovedAt,
		ErrorMessage:        m.ErrorMessage,
		Status:              m.Status,
		AttemptCount:        m.AttemptCount,
		Retryable:           m.Retryable,
		NextRetryAt:         m.NextRetryAt,
		ApprovalCheckedAt:   m.ApprovalCheckedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if m.ResponsePayload != nil {
		r.ResponsePayload = map[string]any(m.ResponsePayload)
	}
	return r
}

func attemptModelFromDomain(a *domain.RequisitionAttempt) *RequisitionAttemptModel {
	if a == nil {
		return nil
	}

	return &RequisitionAttemptModel{
		ID:            a.ID,
		RequisitionID: a.RequisitionID,
		BatchID:       a.BatchID,
		AttemptNumber: a.AttemptNumber,
		Outcome:       a.Outcome,
		StatusCode:    a.StatusCode,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *RequisitionAttemptModel) *domain.RequisitionAttempt {
	if m == nil {
		return nil
	}

	return &domain.RequisitionAttempt{
		ID:            m.ID,
		RequisitionID: m.RequisitionID,
		BatchID:       m.BatchID,
		AttemptNumber: m.AttemptNumber,
		Outcome:       m.Outcome,
		StatusCode:    m.StatusCode,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}

func jsonMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	return datatypes.JSONMap(m)
}
