package ratelimit

import "context"

// ScopeFusion is the shared budget for every call made to the Fusion REST API.
const ScopeFusion = "fusion"

// RateLimiter throttles outbound calls per scope.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
