package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Publisher publishes requisition messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg RequisitionMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg RequisitionMessage) error

// Consumer consumes requisition messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// RequisitionQueue is the work queue for per-requisition processing.
	RequisitionQueue = "requisitions"
	dlqPrefix        = "dlq."
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.requisitions.
func DLQName(queue string) string {
	return fmt.Sprintf("%s%s", dlqPrefix, queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	return []string{RequisitionQueue}
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	names := WorkQueueNames()
	dlqs := make([]string, 0, len(names))
	for _, name := range names {
		dlqs = append(dlqs, DLQName(name))
	}
	return dlqs
}

// RetryPolicy controls how often and how fast a failed requisition is retried.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxJitter   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 5 * time.Second,
		BackoffMax:  5 * time.Minute,
		MaxJitter:   250 * time.Millisecond,
	}
}

// ShouldRetry reports whether another attempt is allowed after attempt failed.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Backoff returns the delay before the attempt following attempt: base * 2^(attempt-1),
// capped at BackoffMax, plus a random jitter drawn from randIntn.
func (p RetryPolicy) Backoff(attempt int, randIntn func(n int) int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.BackoffMax > 0 && delay >= p.BackoffMax {
			delay = p.BackoffMax
			break
		}
	}
	if p.BackoffMax > 0 && delay > p.BackoffMax {
		delay = p.BackoffMax
	}

	jitterMillis := 0
	maxJitterMillis := int(p.MaxJitter / time.Millisecond)
	if randIntn != nil && maxJitterMillis > 0 {
		jitterMillis = randIntn(maxJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering. Consumers dead-letter such messages.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
