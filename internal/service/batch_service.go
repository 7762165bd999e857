package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/kursadbilgin/requisition-engine/internal/observability"
	"github.com/kursadbilgin/requisition-engine/internal/queue"
	"github.com/kursadbilgin/requisition-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	maxBatchSize     = 1000
	defaultPage      = 1
	defaultPageLimit = 10
	maxPageLimit     = 100
)

type BatchService struct {
	batches      repository.BatchRepository
	requisitions repository.RequisitionRepository
	publisher    queue.Publisher
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

type CreateBatchInput struct {
	FileName         string
	OriginalFileName *string
	UploadedBy       *string
	Metadata         map[string]any
	// Source labels the ingestion path (csv, xlsx, json) in metrics.
	Source       string
	Requisitions []domain.RequisitionRequest
}

type ListBatchesParams struct {
	Page   int
	Limit  int
	Status *domain.BatchStatus
}

type BatchMetrics struct {
	TotalItems            int
	ProcessedItems        int
	SuccessfulItems       int
	FailedItems           int
	ProcessingTime        time.Duration
	AverageProcessingTime time.Duration
}

func NewBatchService(
	batches repository.BatchRepository,
	requisitions repository.RequisitionRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*BatchService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if requisitions == nil {
		return nil, fmt.Errorf("requisition repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:      batches,
		requisitions: requisitions,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (s *BatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// CreateBatch validates every item, stores the batch with its requisitions and enqueues them.
func (s *BatchService) CreateBatch(ctx context.Context, input CreateBatchInput) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		return nil, fmt.Errorf("%w: fileName is required", domain.ErrValidation)
	}
	if len(input.Requisitions) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one requisition", domain.ErrValidation)
	}
	if len(input.Requisitions) > maxBatchSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	batchID := uuid.NewString()
	created := make([]domain.Requisition, len(input.Requisitions))
	createdPtrs := make([]*domain.Requisition, len(input.Requisitions))
	for i := range input.Requisitions {
		req := input.Requisitions[i]
		req.Lines = append([]domain.RequisitionLine(nil), req.Lines...)
		req.Normalize()
		if problems := req.Problems(); len(problems) > 0 {
			return nil, fmt.Errorf("%w: requisition %d: %s", domain.ErrValidation, i+1, strings.Join(problems, "; "))
		}

		created[i] = domain.NewRequisition(batchID, req)
		created[i].ID = uuid.NewString()
		createdPtrs[i] = &created[i]
	}

	batch := &domain.Batch{
		ID:               batchID,
		FileName:         fileName,
		OriginalFileName: normalizeOptionalString(input.OriginalFileName),
		Status:           domain.BatchStatusPending,
		TotalItems:       len(created),
		Metadata:         input.Metadata,
		UploadedBy:       normalizeOptionalString(input.UploadedBy),
	}
	if err := s.batches.CreateWithRequisitions(ctx, batch, createdPtrs); err != nil {
		return nil, err
	}
	s.metrics.IncBatchCreated(input.Source)

	observability.WithContextLogger(s.logger, ctx).Info("batch created",
		zap.String("batchId", batch.ID),
		zap.String("fileName", batch.FileName),
		zap.Int("totalItems", batch.TotalItems),
	)

	batch.Requisitions = created
	if err := s.enqueue(ctx, batch, created); err != nil && !errors.Is(err, errNothingEnqueued) {
		return nil, err
	}
	return batch, nil
}

func (s *BatchService) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	return s.batches.GetWithRequisitions(ctx, strings.TrimSpace(id))
}

func (s *BatchService) ListBatches(ctx context.Context, params ListBatchesParams) ([]domain.Batch, int64, error) {
	page, limit := NormalizePage(params.Page, params.Limit)
	return s.batches.List(ctx, repository.BatchListParams{
		Status: params.Status,
		Page:   page,
		Limit:  limit,
	})
}

func (s *BatchService) GetBatchMetrics(ctx context.Context, id string) (*BatchMetrics, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	end := s.now()
	if batch.Status == domain.BatchStatusCompleted {
		end = batch.UpdatedAt
	}
	processingTime := end.Sub(batch.CreatedAt)
	if processingTime < 0 {
		processingTime = 0
	}

	var average time.Duration
	if batch.ProcessedItems > 0 {
		average = processingTime / time.Duration(batch.ProcessedItems)
	}

	return &BatchMetrics{
		TotalItems:            batch.TotalItems,
		ProcessedItems:        batch.ProcessedItems,
		SuccessfulItems:       batch.SuccessfulItems,
		FailedItems:           batch.FailedItems,
		ProcessingTime:        processingTime,
		AverageProcessingTime: average,
	}, nil
}

// RetryBatch moves the FAILED requisitions of a batch back to PENDING and enqueues them.
func (s *BatchService) RetryBatch(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if batch.Status == domain.BatchStatusProcessing {
		return fmt.Errorf("%w: batch is currently processing", domain.ErrConflict)
	}

	reset, err := s.batches.ResetForRetry(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to reset batch for retry: %w", err)
	}

	requisitions, err := s.requisitions.ListByBatch(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load batch requisitions: %w", err)
	}

	pending := make([]domain.Requisition, 0, reset)
	for _, req := range requisitions {
		if req.Status == domain.RequisitionStatusPending {
			pending = append(pending, req)
		}
	}

	s.logger.Info("batch retry requested",
		zap.String("batchId", id),
		zap.Int64("reset", reset),
		zap.Int("pending", len(pending)),
	)

	if len(pending) == 0 {
		// Nothing to process; restore the counters the reset cleared.
		return s.UpdateBatchCounts(ctx, id)
	}
	return s.enqueue(ctx, batch, pending)
}

// UpdateBatchCounts recomputes batch counters and status from its requisitions.
func (s *BatchService) UpdateBatchCounts(ctx context.Context, batchID string) error {
	summaries, err := s.requisitions.GetBatchSummary(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch summary: %w", err)
	}

	counts := make([]domain.StatusCount, 0, len(summaries))
	for _, summary := range summaries {
		counts = append(counts, domain.StatusCount{
			Status: summary.Status,
			Count:  summary.Count,
		})
	}

	rollup := domain.RollupBatch(counts)
	if rollup.Total == 0 {
		return nil
	}
	if err := s.batches.UpdateCounts(ctx, batchID, rollup); err != nil {
		return fmt.Errorf("failed to update batch counts: %w", err)
	}
	return nil
}

// errNothingEnqueued reports that no job of a batch reached the queue. The batch is
// back in PENDING with the publish error recorded.
var errNothingEnqueued = errors.New("no requisition was enqueued")

// enqueue marks the batch PROCESSING and publishes one message per requisition.
// A single publish failure leaves that requisition PENDING for a later retry; when every
// publish fails the batch returns to PENDING.
func (s *BatchService) enqueue(ctx context.Context, batch *domain.Batch, requisitions []domain.Requisition) error {
	if err := s.batches.UpdateStatus(ctx, batch.ID, domain.BatchStatusProcessing); err != nil {
		return fmt.Errorf("failed to mark batch as processing: %w", err)
	}
	batch.Status = domain.BatchStatusProcessing

	var lastErr error
	failed := 0
	for i := range requisitions {
		msg := queue.RequisitionMessage{
			BatchID:       batch.ID,
			RequisitionID: requisitions[i].ID,
		}
		if err := s.publisher.Publish(ctx, queue.RequisitionQueue, msg); err != nil {
			lastErr = err
			failed++
			s.metrics.IncEnqueueFailure()
			s.logger.Error("failed to publish requisition",
				append(observability.RequisitionFields(batch.ID, requisitions[i].ID), zap.Error(err))...,
			)
		}
	}

	if failed > 0 {
		s.logger.Warn("batch enqueued with publish failures",
			zap.String("batchId", batch.ID),
			zap.Int("failed", failed),
			zap.Int("total", len(requisitions)),
		)
	}
	if failed < len(requisitions) {
		return nil
	}

	message := fmt.Sprintf("failed to enqueue requisitions: %d/%d publishes failed: %v", failed, len(requisitions), lastErr)
	if err := s.batches.MarkEnqueueFailed(ctx, batch.ID, message); err != nil {
		return fmt.Errorf("failed to mark batch enqueue failure: %w", err)
	}
	batch.Status = domain.BatchStatusPending
	batch.ErrorMessage = &message
	return fmt.Errorf("%w: batch %s: %s", errNothingEnqueued, batch.ID, message)
}

// NormalizePage applies the list defaults: page 1, limit 10, limit capped at 100.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
