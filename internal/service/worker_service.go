package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/kursadbilgin/requisition-engine/internal/fusion"
	"github.com/kursadbilgin/requisition-engine/internal/observability"
	"github.com/kursadbilgin/requisition-engine/internal/queue"
	"github.com/kursadbilgin/requisition-engine/internal/ratelimit"
	"github.com/kursadbilgin/requisition-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// BatchCountUpdater recomputes the aggregate counters of a batch.
type BatchCountUpdater interface {
	UpdateBatchCounts(ctx context.Context, batchID string) error
}

type WorkerService struct {
	requisitions repository.RequisitionRepository
	attempts     repository.AttemptRepository
	counts       BatchCountUpdater
	consumer     queue.Consumer
	client       fusion.Client
	rateLimiter  ratelimit.RateLimiter
	policy       queue.RetryPolicy
	logger       *zap.Logger
	metrics      *observability.Metrics
	concurrency  int
	now          func() time.Time
	randIntn     func(n int) int
}

func NewWorkerService(
	requisitions repository.RequisitionRepository,
	attempts repository.AttemptRepository,
	counts BatchCountUpdater,
	consumer queue.Consumer,
	client fusion.Client,
	rateLimiter ratelimit.RateLimiter,
	policy queue.RetryPolicy,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if requisitions == nil {
		return nil, fmt.Errorf("requisition repository is required")
	}
	if counts == nil {
		return nil, fmt.Errorf("batch count updater is required")
	}
	if client == nil {
		return nil, fmt.Errorf("fusion client is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if policy.MaxAttempts < 1 {
		policy = queue.DefaultRetryPolicy()
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		requisitions: requisitions,
		attempts:     attempts,
		counts:       counts,
		consumer:     consumer,
		client:       client,
		rateLimiter:  rateLimiter,
		policy:       policy,
		logger:       logger,
		concurrency:  concurrency,
		now:          time.Now,
		randIntn:     rand.Intn,
	}, nil
}

// Start consumes the requisition queue with the configured concurrency until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.consumer == nil {
		return fmt.Errorf("consumer is required")
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// processMessage runs one delivery of a requisition job. Redeliveries of a requisition
// that is no longer PENDING are acknowledged without side effects.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.RequisitionMessage) error {
	req, err := s.requisitions.GetByID(ctx, msg.RequisitionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return queue.Permanent(fmt.Errorf("requisition %s: %w", msg.RequisitionID, err))
		}
		return fmt.Errorf("failed to load requisition: %w", err)
	}

	logger := observability.WithContextLogger(s.logger, ctx).
		With(observability.RequisitionFields(req.BatchID, req.ID)...)

	if req.Status != domain.RequisitionStatusPending {
		logger.Info("requisition already processed, skipping", zap.String("status", req.Status.String()))
		return nil
	}

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	attempt := req.AttemptCount + 1

	if req.ExternalReference != nil && req.FusionRequisitionID == nil {
		duplicate, err := s.isDuplicate(ctx, logger, *req.ExternalReference)
		if err != nil {
			return err
		}
		if duplicate {
			return s.markDuplicate(ctx, logger, req, attempt)
		}
	}

	if req.FusionRequisitionID == nil {
		if err := s.rateLimiter.Wait(ctx, ratelimit.ScopeFusion); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}

		start := s.now()
		record, createErr := s.client.CreateRequisition(ctx, fusion.BuildCreatePayload(*req))
		s.metrics.ObserveFusionCall("create", s.now().Sub(start), createErr, fusion.IsTransient(createErr))
		if createErr == nil && (record == nil || record.ID() == "") {
			createErr = &fusion.Error{Message: "create response did not include a requisition id"}
		}
		if createErr != nil {
			return s.markFailed(ctx, logger, req, attempt, "create", fusionMessage(createErr), createErr)
		}

		remoteID := record.ID()
		result := repository.CreatedResult{
			FusionRequisitionID: remoteID,
			Response:            map[string]any(*record),
		}
		if number := record.RequisitionNumber(); number != "" {
			result.RequisitionNumber = &number
		}
		if err := s.requisitions.MarkCreated(ctx, req.ID, result); err != nil {
			return fmt.Errorf("failed to mark requisition as created: %w", err)
		}
		req.FusionRequisitionID = &remoteID
		req.Status = domain.RequisitionStatusCreated
		logger.Info("requisition created in fusion", zap.String("fusionRequisitionId", remoteID))
	}

	if !req.WantsSubmit() {
		return s.finish(ctx, logger, req, attempt, domain.AttemptOutcomeCreated)
	}

	if err := s.rateLimiter.Wait(ctx, ratelimit.ScopeFusion); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	start := s.now()
	record, submitErr := s.client.SubmitRequisition(ctx, *req.FusionRequisitionID)
	s.metrics.ObserveFusionCall("submit", s.now().Sub(start), submitErr, fusion.IsTransient(submitErr))
	if submitErr != nil {
		return s.markFailed(ctx, logger, req, attempt, "submit", domain.SubmitFailedPrefix+fusionMessage(submitErr), submitErr)
	}

	var response map[string]any
	if record != nil {
		response = map[string]any(*record)
	}
	if err := s.requisitions.MarkSubmitted(ctx, req.ID, response, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to mark requisition as submitted: %w", err)
	}
	logger.Info("requisition submitted", zap.String("fusionRequisitionId", *req.FusionRequisitionID))

	return s.finish(ctx, logger, req, attempt, domain.AttemptOutcomeSubmitted)
}

// isDuplicate looks the external reference up in Fusion. Lookup failures are not fatal.
func (s *WorkerService) isDuplicate(ctx context.Context, logger *zap.Logger, externalRef string) (bool, error) {
	if err := s.rateLimiter.Wait(ctx, ratelimit.ScopeFusion); err != nil {
		return false, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	start := s.now()
	existing, err := s.client.FindByExternalReference(ctx, externalRef)
	s.metrics.ObserveFusionCall("find", s.now().Sub(start), err, fusion.IsTransient(err))
	if err != nil {
		logger.Warn("external reference lookup failed, continuing",
			zap.String("externalReference", externalRef),
			zap.Error(err),
		)
		return false, nil
	}
	return existing != nil && len(existing.Items) > 0, nil
}

func (s *WorkerService) markDuplicate(ctx context.Context, logger *zap.Logger, req *domain.Requisition, attempt int) error {
	err := s.requisitions.MarkFailed(ctx, req.ID, repository.FailureUpdate{
		Message:      domain.DuplicateExternalReferenceMessage,
		AttemptCount: attempt,
	})
	if err != nil {
		return fmt.Errorf("failed to mark duplicate requisition: %w", err)
	}
	logger.Warn("duplicate external reference", zap.Stringp("externalReference", req.ExternalReference))

	s.recordAttempt(ctx, logger, req, attempt, domain.AttemptOutcomeDuplicate, nil)
	s.metrics.IncRequisitionOutcome(string(domain.AttemptOutcomeDuplicate))
	s.refreshCounts(ctx, logger, req.BatchID)
	return nil
}

// markFailed persists a failed external call and schedules a retry while attempts remain.
// Every Fusion failure is retried; transient only labels logs and metrics.
func (s *WorkerService) markFailed(
	ctx context.Context,
	logger *zap.Logger,
	req *domain.Requisition,
	attempt int,
	stage string,
	message string,
	cause error,
) error {
	update := repository.FailureUpdate{
		Message:      message,
		AttemptCount: attempt,
	}

	transient := fusion.IsTransient(cause)
	if s.policy.ShouldRetry(attempt) {
		nextRetryAt := s.now().UTC().Add(s.policy.Backoff(attempt, s.randIntn))
		update.Retryable = true
		update.NextRetryAt = &nextRetryAt
	}

	if err := s.requisitions.MarkFailed(ctx, req.ID, update); err != nil {
		return fmt.Errorf("failed to mark requisition as failed: %w", err)
	}

	fields := []zap.Field{
		zap.String("stage", stage),
		zap.Int("attempt", attempt),
		zap.Bool("transient", transient),
		zap.Error(cause),
	}
	if update.Retryable {
		s.metrics.IncRetryScheduled(stage)
		logger.Warn("requisition failed, retry scheduled", append(fields, zap.Timep("nextRetryAt", update.NextRetryAt))...)
	} else {
		logger.Error("requisition failed", fields...)
	}

	s.recordAttempt(ctx, logger, req, attempt, domain.AttemptOutcomeFailed, cause)
	s.metrics.IncRequisitionOutcome(string(domain.AttemptOutcomeFailed))
	s.refreshCounts(ctx, logger, req.BatchID)
	return nil
}

func (s *WorkerService) finish(
	ctx context.Context,
	logger *zap.Logger,
	req *domain.Requisition,
	attempt int,
	outcome domain.AttemptOutcome,
) error {
	s.recordAttempt(ctx, logger, req, attempt, outcome, nil)
	s.metrics.IncRequisitionOutcome(string(outcome))
	s.refreshCounts(ctx, logger, req.BatchID)
	return nil
}

// refreshCounts runs after a terminal write; the row is final so a failure here is only logged.
func (s *WorkerService) refreshCounts(ctx context.Context, logger *zap.Logger, batchID string) {
	if err := s.counts.UpdateBatchCounts(ctx, batchID); err != nil {
		logger.Error("failed to update batch counts", zap.Error(err))
	}
}

func (s *WorkerService) recordAttempt(
	ctx context.Context,
	logger *zap.Logger,
	req *domain.Requisition,
	attemptNumber int,
	outcome domain.AttemptOutcome,
	cause error,
) {
	if s.attempts == nil {
		return
	}

	attempt := &domain.RequisitionAttempt{
		ID:            uuid.NewString(),
		RequisitionID: req.ID,
		BatchID:       req.BatchID,
		AttemptNumber: attemptNumber,
		Outcome:       outcome,
		CreatedAt:     s.now().UTC(),
	}
	if cause != nil {
		value := cause.Error()
		attempt.Error = &value
		if code := fusion.StatusCode(cause); code > 0 {
			attempt.StatusCode = &code
		}
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		logger.Warn("failed to record attempt", zap.Error(err))
	}
}

// fusionMessage returns the message stored on a failed requisition.
func fusionMessage(err error) string {
	var fusionErr *fusion.Error
	if errors.As(err, &fusionErr) && strings.TrimSpace(fusionErr.Message) != "" {
		return fusionErr.Message
	}
	return err.Error()
}
