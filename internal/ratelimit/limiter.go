// Package ratelimit enforces the source-wide EDGAR request ceiling across
// every worker process. Time is partitioned into fixed-width buckets; each
// bucket admits a fixed number of requests, counted in a shared store so the
// aggregate rate holds regardless of how many processes are running.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Limiter gates outbound requests. Acquire blocks until the caller is
// admitted; it never fails due to contention.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// CounterStore is the shared atomic counter backing the bucket limiter.
// Incr must atomically increment key, arrange for it to expire after ttl
// when the key is first created, and return the post-increment value.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Options configures a BucketLimiter.
type Options struct {
	KeyPrefix    string        // shared logical limiter key, default "edgar:rl"
	Bucket       time.Duration // bucket width, default 100ms (10 req/s at 1 per bucket)
	PerBucket    int64         // admissions per bucket, default 1
	SafetyMargin time.Duration // extra wait past the next bucket boundary, default 5ms
	StoreBackoff time.Duration // pause after a store I/O error, default one bucket
}

// BucketLimiter admits one request per time bucket per logical key. With the
// default 100ms bucket and one slot this yields a strict 10/s ceiling summed
// across all processes sharing the CounterStore.
type BucketLimiter struct {
	store CounterStore
	opts  Options
	now   func() time.Time
}

// NewBucketLimiter creates a limiter over the given shared counter store.
func NewBucketLimiter(store CounterStore, opts Options) *BucketLimiter {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "edgar:rl"
	}
	if opts.Bucket <= 0 {
		opts.Bucket = 100 * time.Millisecond
	}
	if opts.PerBucket <= 0 {
		opts.PerBucket = 1
	}
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = 5 * time.Millisecond
	}
	if opts.StoreBackoff <= 0 {
		opts.StoreBackoff = opts.Bucket
	}
	return &BucketLimiter{store: store, opts: opts, now: time.Now}
}

// Acquire blocks until a bucket slot is claimed. Contention is resolved by
// waiting for the next bucket; store I/O errors are logged and retried after
// a short backoff, never surfaced to the caller.
func (l *BucketLimiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := l.now()
		bucketID := now.UnixNano() / int64(l.opts.Bucket)
		key := l.opts.KeyPrefix + ":" + strconv.FormatInt(bucketID, 10)

		// TTL of a few buckets lets stale counters self-clean.
		count, err := l.store.Incr(ctx, key, 10*l.opts.Bucket)
		if err != nil {
			zap.L().Warn("rate limiter store error, backing off",
				zap.String("key", key),
				zap.Error(err),
			)
			if serr := sleep(ctx, l.opts.StoreBackoff); serr != nil {
				return serr
			}
			continue
		}

		if count <= l.opts.PerBucket {
			return nil
		}

		// Slot taken: wait for the start of the next bucket plus a margin,
		// then retry the whole acquire.
		nextBucket := time.Unix(0, (bucketID+1)*int64(l.opts.Bucket))
		wait := nextBucket.Sub(now) + l.opts.SafetyMargin
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
