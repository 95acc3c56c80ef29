package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// LocalLimiter adapts a token-bucket rate.Limiter to the Limiter interface.
// It only bounds the current process; deployments with more than one worker
// must use the BucketLimiter with a shared store instead.
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter creates a per-process limiter at the given requests/second.
func NewLocalLimiter(rps float64) *LocalLimiter {
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Acquire blocks until the limiter admits an event.
func (l *LocalLimiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
