package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/requisition-engine/internal/domain"
	"github.com/kursadbilgin/requisition-engine/internal/fusion"
	"github.com/kursadbilgin/requisition-engine/internal/observability"
	"github.com/kursadbilgin/requisition-engine/internal/ratelimit"
	"github.com/kursadbilgin/requisition-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultApprovalSyncInterval = time.Minute
	defaultApprovalSyncLimit    = 50
)

// ApprovalSync polls Fusion for the approval outcome of submitted requisitions.
type ApprovalSync struct {
	requisitions repository.RequisitionRepository
	counts       BatchCountUpdater
	client       fusion.Client
	rateLimiter  ratelimit.RateLimiter
	logger       *zap.Logger
	metrics      *observability.Metrics
	interval     time.Duration
	limit        int
	now          func() time.Time
}

func NewApprovalSync(
	requisitions repository.RequisitionRepository,
	counts BatchCountUpdater,
	client fusion.Client,
	rateLimiter ratelimit.RateLimiter,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*ApprovalSync, error) {
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
	if interval <= 0 {
		interval = defaultApprovalSyncInterval
	}
	if limit <= 0 {
		limit = defaultApprovalSyncLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ApprovalSync{
		requisitions: requisitions,
		counts:       counts,
		client:       client,
		rateLimiter:  rateLimiter,
		logger:       logger,
		interval:     interval,
		limit:        limit,
		now:          time.Now,
	}, nil
}

func (s *ApprovalSync) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *ApprovalSync) Start(ctx context.Context) error {
	return runPeriodically(ctx, s.interval, s.logger, "approval sync", s.syncSubmitted)
}

func (s *ApprovalSync) syncSubmitted(ctx context.Context) error {
	submitted, err := s.requisitions.ListSubmitted(ctx, s.limit, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to list submitted requisitions: %w", err)
	}

	touched := make(map[string]struct{})
	for i := range submitted {
		req := submitted[i]
		if req.FusionRequisitionID == nil {
			continue
		}
		logger := s.logger.With(observability.RequisitionFields(req.BatchID, req.ID)...)

		if err := s.rateLimiter.Wait(ctx, ratelimit.ScopeFusion); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}

		start := s.now()
		record, err := s.client.GetRequisition(ctx, *req.FusionRequisitionID)
		s.metrics.ObserveFusionCall("get", s.now().Sub(start), err, fusion.IsTransient(err))
		if err != nil {
			logger.Warn("failed to fetch requisition status", zap.Error(err))
			continue
		}
		if record == nil {
			continue
		}

		status, decided := decisionStatus(record.DocumentStatus())
		if !decided {
			continue
		}

		err = s.requisitions.MarkDecision(ctx, req.ID, status, s.now().UTC(), map[string]any(*record))
		if errors.Is(err, domain.ErrConflict) {
			logger.Info("requisition changed before decision was recorded")
			continue
		}
		if err != nil {
			logger.Error("failed to record approval decision", zap.Error(err))
			continue
		}

		s.metrics.IncApprovalDecision(status.String())
		logger.Info("approval decision recorded", zap.String("status", status.String()))
		touched[req.BatchID] = struct{}{}
	}

	for batchID := range touched {
		if err := s.counts.UpdateBatchCounts(ctx, batchID); err != nil {
			s.logger.Error("failed to update batch counts", zap.String("batchId", batchID), zap.Error(err))
		}
	}
	return nil
}

// decisionStatus maps a Fusion document status onto a final requisition status.
func decisionStatus(documentStatus string) (domain.RequisitionStatus, bool) {
	switch documentStatus {
	case "APPROVED":
		return domain.RequisitionStatusApproved, true
	case "REJECTED":
		return domain.RequisitionStatusRejected, true
	}
	return "", false
}
