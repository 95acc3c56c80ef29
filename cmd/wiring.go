package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alphaops/edgar-ingest/internal/blob"
	"github.com/alphaops/edgar-ingest/internal/fetcher"
	"github.com/alphaops/edgar-ingest/internal/ratelimit"
	"github.com/alphaops/edgar-ingest/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "edgar.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initBlob(ctx context.Context) (blob.Store, error) {
	switch cfg.Blob.Driver {
	case "fs":
		return blob.NewFSStore(cfg.Blob.Dir)
	case "minio":
		return blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			UseSSL:    cfg.Blob.UseSSL,
		})
	default:
		return nil, eris.Errorf("unsupported blob driver: %s", cfg.Blob.Driver)
	}
}

// initLimiter builds the EDGAR request limiter. With a Redis address the
// rate is enforced across every process sharing that Redis; without one the
// ceiling only holds within this process.
func initLimiter() ratelimit.Limiter {
	rps := cfg.SEC.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}

	if cfg.Redis.Addr == "" {
		zap.L().Info("rate limiter: in-process", zap.Int("rps", rps))
		return ratelimit.NewLocalLimiter(float64(rps))
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	zap.L().Info("rate limiter: shared", zap.String("redis", cfg.Redis.Addr), zap.Int("rps", rps))
	return ratelimit.NewBucketLimiter(ratelimit.NewRedisStore(client), bucketOptions(rps))
}

// bucketOptions spreads rps requests per second into one-permit buckets so
// low rates (under 10/s) are honored exactly instead of rounding to zero.
func bucketOptions(rps int) ratelimit.Options {
	return ratelimit.Options{
		Bucket:    time.Second / time.Duration(rps),
		PerBucket: 1,
	}
}

func initClient() fetcher.Client {
	return fetcher.NewHTTPClient(fetcher.Options{
		UserAgent:  cfg.SEC.UserAgent,
		FeedURL:    cfg.SEC.FeedURL,
		Timeout:    cfg.SEC.Timeout(),
		MaxRetries: cfg.SEC.MaxRetries,
	}, initLimiter())
}
