package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/requisition-engine/internal/observability"
	"github.com/kursadbilgin/requisition-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetentionInterval      = 10 * time.Minute
	defaultRetentionKeepCompleted = 100
	defaultRetentionKeepFailed    = 50
)

// RetentionSweeper periodically prunes the attempt audit trail to a bounded size.
type RetentionSweeper struct {
	attempts      repository.AttemptRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	keepCompleted int
	keepFailed    int
}

func NewRetentionSweeper(
	attempts repository.AttemptRepository,
	interval time.Duration,
	keepCompleted int,
	keepFailed int,
	logger *zap.Logger,
) (*RetentionSweeper, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	if keepCompleted < 0 {
		keepCompleted = defaultRetentionKeepCompleted
	}
	if keepFailed < 0 {
		keepFailed = defaultRetentionKeepFailed
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetentionSweeper{
		attempts:      attempts,
		logger:        logger,
		interval:      interval,
		keepCompleted: keepCompleted,
		keepFailed:    keepFailed,
	}, nil
}

func (s *RetentionSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetentionSweeper) Start(ctx context.Context) error {
	return runPeriodically(ctx, s.interval, s.logger, "retention sweeper", s.sweep)
}

func (s *RetentionSweeper) sweep(ctx context.Context) error {
	pruned, err := s.attempts.Prune(ctx, s.keepCompleted, s.keepFailed)
	if err != nil {
		return fmt.Errorf("failed to prune attempts: %w", err)
	}
	if pruned > 0 {
		s.metrics.AddAttemptsPruned(pruned)
		s.logger.Info("attempt records pruned", zap.Int64("pruned", pruned))
	}
	return nil
}
