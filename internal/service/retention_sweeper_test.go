package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/requisition-engine/internal/observability"
	"go.uber.org/zap"
)

func TestNewRetentionSweeperValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRetentionSweeper(nil, time.Minute, 100, 50, zap.NewNop()); err == nil {
		t.Fatal("expected error when attempt repository is nil")
	}

	sweeper, err := NewRetentionSweeper(&fakeAttemptRepo{}, 0, -1, -1, nil)
	if err != nil {
		t.Fatalf("NewRetentionSweeper() error = %v", err)
	}
	if sweeper.interval != defaultRetentionInterval {
		t.Fatalf("interval = %s, want %s", sweeper.interval, defaultRetentionInterval)
	}
	if sweeper.keepCompleted != 100 || sweeper.keepFailed != 50 {
		t.Fatalf("keep = %d/%d, want 100/50", sweeper.keepCompleted, sweeper.keepFailed)
	}
}

func TestRetentionSweeperSweepPrunesWithLimits(t *testing.T) {
	t.Parallel()

	var gotCompleted, gotFailed int
	attempts := &fakeAttemptRepo{
		pruneFn: func(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
			gotCompleted, gotFailed = keepCompleted, keepFailed
			return 7, nil
		},
	}

	sweeper, err := NewRetentionSweeper(attempts, time.Minute, 100, 50, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetentionSweeper() error = %v", err)
	}
	sweeper.SetMetrics(observability.NewMetrics())

	if err := sweeper.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if gotCompleted != 100 || gotFailed != 50 {
		t.Fatalf("Prune(%d, %d), want Prune(100, 50)", gotCompleted, gotFailed)
	}
}

func TestRetentionSweeperSweepRepositoryError(t *testing.T) {
	t.Parallel()

	attempts := &fakeAttemptRepo{
		pruneFn: func(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
			return 0, errors.New("db unavailable")
		},
	}

	sweeper, err := NewRetentionSweeper(attempts, time.Minute, 100, 50, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetentionSweeper() error = %v", err)
	}

	if err := sweeper.sweep(context.Background()); err == nil {
		t.Fatal("expected sweep() error")
	}
}

func TestRetentionSweeperStartReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sweeper, err := NewRetentionSweeper(&fakeAttemptRepo{}, time.Second, 100, 50, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetentionSweeper() error = %v", err)
	}

	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}
