// Package store persists filings, extracted facts, and ingest run history.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/alphaops/edgar-ingest/internal/model"
)

// ErrStateConflict is returned when a filing state update is rejected
// because the filing is not in the expected prior state. Transitions are
// forward-only; see model.FilingState.
var ErrStateConflict = eris.New("store: state transition rejected")

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Filings. Inserts are idempotent: re-observing a known accession is a
	// no-op, never an error.
	InsertFilingIfAbsent(ctx context.Context, f model.Filing) (bool, error)
	FilingExists(ctx context.Context, accession string) (bool, error)
	GetFiling(ctx context.Context, accession string) (*model.Filing, error)
	ListAccessions(ctx context.Context) (map[string]struct{}, error)
	BulkInsertFilings(ctx context.Context, filings []model.Filing) (int64, error)
	ListByState(ctx context.Context, state model.FilingState, limit int) ([]model.Filing, error)
	CountByState(ctx context.Context) (map[model.FilingState]int64, error)
	DistinctCIKs(ctx context.Context) ([]string, error)

	// State transitions, guarded in SQL so concurrent workers cannot move a
	// filing backwards.
	MarkDownloaded(ctx context.Context, accession, blobPath string) error
	MarkProcessed(ctx context.Context, accession string) error
	// MarkFailed records the failure reason alongside the terminal state so
	// an operator can see why a filing parked without digging through logs.
	MarkFailed(ctx context.Context, accession, reason string) error
	Requeue(ctx context.Context, accession string) error

	// Facts are wholesale replaced per issuer on each successful
	// extraction so the quality-gate dedup invariant holds after every run.
	ReplaceFacts(ctx context.Context, cik string, facts []model.Fact) (int64, error)

	// Ingest run history.
	StartRun(ctx context.Context, source string) (string, error)
	CompleteRun(ctx context.Context, runID string, newFilings int64) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
