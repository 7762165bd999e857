package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of a batch.
type BatchStatus string

const (
	BatchStatusPending         BatchStatus = "PENDING"
	BatchStatusProcessing      BatchStatus = "PROCESSING"
	BatchStatusCompleted       BatchStatus = "COMPLETED"
	BatchStatusFailed          BatchStatus = "FAILED"
	BatchStatusPartiallyFailed BatchStatus = "PARTIALLY_FAILED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed, BatchStatusPartiallyFailed:
		return true
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// Batch groups requisitions uploaded together and carries their rolled-up outcome.
type Batch struct {
	ID               string
	FileName         string
	OriginalFileName *string
	Status           BatchStatus
	TotalItems       int
	ProcessedItems   int
	SuccessfulItems  int
	FailedItems      int
	ErrorMessage     *string
	Metadata         map[string]any
	UploadedBy       *string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Requisitions []Requisition
}
