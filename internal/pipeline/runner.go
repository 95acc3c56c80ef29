package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rotisserie/eris"

	"github.com/alphaops/edgar-ingest/internal/model"
	"github.com/alphaops/edgar-ingest/internal/store"
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Workers is the number of filings processed concurrently per task.
	Workers int
	// BatchSize caps how many filings one Run drains per state.
	BatchSize int
	// MaxAttempts is the number of times a task is tried per filing before
	// it is marked FAILED. The HTTP layer already retries transient
	// responses; this budget covers everything that survives it.
	MaxAttempts int
}

// Stats summarizes one Run invocation.
type Stats struct {
	Downloaded int64
	Processed  int64
	Failed     int64
}

// Runner drains PENDING filings through download and DOWNLOADED filings
// through extraction using a bounded worker pool.
type Runner struct {
	store    store.Store
	download Task
	extract  Task
	opts     RunnerOptions
	log      *zap.Logger
}

// NewRunner creates a Runner over the two lifecycle tasks.
func NewRunner(st store.Store, download, extract Task, opts RunnerOptions) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Runner{
		store:    st,
		download: download,
		extract:  extract,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "pipeline.runner")),
	}
}

// Run drains one batch of PENDING filings, then one batch of DOWNLOADED
// filings. Task failures mark the filing FAILED and never abort the batch.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	n, failed, err := r.runTask(ctx, r.download, model.StatePending)
	stats.Downloaded = n
	stats.Failed += failed
	if err != nil {
		return stats, err
	}

	n, failed, err = r.runTask(ctx, r.extract, model.StateDownloaded)
	stats.Processed = n
	stats.Failed += failed
	if err != nil {
		return stats, err
	}

	r.log.Info("run complete",
		zap.Int64("downloaded", stats.Downloaded),
		zap.Int64("processed", stats.Processed),
		zap.Int64("failed", stats.Failed))
	return stats, nil
}

func (r *Runner) runTask(ctx context.Context, task Task, state model.FilingState) (done, failed int64, err error) {
	filings, err := r.store.ListByState(ctx, state, r.opts.BatchSize)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "pipeline: list %s filings", state)
	}
	if len(filings) == 0 {
		return 0, 0, nil
	}

	results := make([]Outcome, len(filings))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, f := range filings {
		g.Go(func() error {
			results[i] = r.attempt(gCtx, task, f)
			return gCtx.Err()
		})
	}
	waitErr := g.Wait()
	done, failed = tally(results)
	return done, failed, waitErr
}

// attempt runs the task against one filing up to MaxAttempts times. Only
// after the last attempt still errors is the filing marked FAILED, with the
// error recorded; an earlier mark would trip the state guard and turn every
// retry into a no-op.
func (r *Runner) attempt(ctx context.Context, task Task, f model.Filing) Outcome {
	var outcome Outcome
	var taskErr error

	for n := 1; n <= r.opts.MaxAttempts; n++ {
		outcome, taskErr = task.Run(ctx, f)
		if taskErr == nil || ctx.Err() != nil {
			return outcome
		}
		r.log.Warn("task attempt failed",
			zap.String("task", task.Name()),
			zap.String("accession", f.AccessionNumber),
			zap.Int("attempt", n),
			zap.Int("max_attempts", r.opts.MaxAttempts),
			zap.Error(taskErr))
	}

	if err := r.store.MarkFailed(ctx, f.AccessionNumber, taskErr.Error()); err != nil && !errors.Is(err, store.ErrStateConflict) {
		r.log.Error("mark failed errored",
			zap.String("accession", f.AccessionNumber),
			zap.Error(err))
	}
	return outcome
}

func tally(results []Outcome) (done, failed int64) {
	for _, o := range results {
		switch o {
		case Done:
			done++
		case Failed:
			failed++
		}
	}
	return done, failed
}
