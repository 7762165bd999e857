package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/requisition-engine/internal/observability"
	"github.com/kursadbilgin/requisition-engine/internal/queue"
	"github.com/kursadbilgin/requisition-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner periodically re-enqueues failed requisitions whose retry is due.
type RetryScanner struct {
	requisitions repository.RequisitionRepository
	publisher    queue.Publisher
	logger       *zap.Logger
	interval     time.Duration
	limit        int
	now          func() time.Time
}

func NewRetryScanner(
	requisitions repository.RequisitionRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if requisitions == nil {
		return nil, fmt.Errorf("requisition repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		requisitions: requisitions,
		publisher:    publisher,
		logger:       logger,
		interval:     interval,
		limit:        limit,
		now:          time.Now,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	return runPeriodically(ctx, s.interval, s.logger, "retry scanner", s.scanDue)
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	due, err := s.requisitions.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range due {
		claimed, err := s.requisitions.ClaimForRetry(ctx, due[i].ID)
		if err != nil {
			s.logger.Error("failed to claim requisition for retry",
				append(observability.RequisitionFields(due[i].BatchID, due[i].ID), zap.Error(err))...,
			)
			continue
		}
		// Claimed elsewhere or no longer due.
		if claimed == nil {
			continue
		}

		msg := queue.RequisitionMessage{
			BatchID:       claimed.BatchID,
			RequisitionID: claimed.ID,
		}
		if err := s.publisher.Publish(ctx, queue.RequisitionQueue, msg); err != nil {
			s.logger.Error("failed to enqueue requisition retry",
				append(observability.RequisitionFields(claimed.BatchID, claimed.ID), zap.Error(err))...,
			)
			if releaseErr := s.requisitions.ReleaseClaim(ctx, claimed.ID, s.now().UTC().Add(s.interval)); releaseErr != nil {
				s.logger.Error("failed to release retry claim",
					append(observability.RequisitionFields(claimed.BatchID, claimed.ID), zap.Error(releaseErr))...,
				)
			}
			continue
		}

		s.logger.Info("requisition retry enqueued",
			append(observability.RequisitionFields(claimed.BatchID, claimed.ID), zap.Int("attempt", claimed.AttemptCount+1))...,
		)
	}

	return nil
}

// runPeriodically runs fn immediately and then on every tick until ctx is done.
func runPeriodically(
	ctx context.Context,
	interval time.Duration,
	logger *zap.Logger,
	name string,
	fn func(ctx context.Context) error,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := fn(ctx); err != nil && ctx.Err() == nil {
		logger.Error(name+" initial run failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error(name+" run failed", zap.Error(err))
			}
		}
	}
}
