package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alphaops/edgar-ingest/internal/fetcher"
	"github.com/alphaops/edgar-ingest/internal/model"
	"github.com/alphaops/edgar-ingest/internal/store"
)

// insertBatchSize bounds a single bulk insert. A busy day runs well past
// 10k index rows and one giant statement holds locks for too long.
const insertBatchSize = 1000

// Options configures a Reconciler.
type Options struct {
	// Forms restricts reconciliation to the given form types; empty means
	// every form in the index is considered.
	Forms []string
}

// Reconciler backfills filings the feed watcher missed by diffing daily
// master index files against the store.
type Reconciler struct {
	client fetcher.Client
	store  store.Store
	forms  map[string]struct{}
	log    *zap.Logger
}

// New creates a Reconciler.
func New(client fetcher.Client, st store.Store, opts Options) *Reconciler {
	var forms map[string]struct{}
	if len(opts.Forms) > 0 {
		forms = make(map[string]struct{}, len(opts.Forms))
		for _, f := range opts.Forms {
			forms[strings.ToUpper(strings.TrimSpace(f))] = struct{}{}
		}
	}
	return &Reconciler{
		client: client,
		store:  st,
		forms:  forms,
		log:    zap.L().With(zap.String("component", "reconcile")),
	}
}

// ReconcileDate fetches the master index for one day, diffs it against the
// known accession set, and inserts the missing filings. A missing index file
// (weekend, holiday, not yet published) counts as zero new filings.
func (r *Reconciler) ReconcileDate(ctx context.Context, day time.Time) (int64, error) {
	url := IndexURL(day)

	body, err := r.client.FetchText(ctx, url)
	if err != nil {
		if fetcher.IsNotFound(err) {
			r.log.Debug("no index for date", zap.String("date", day.Format("2006-01-02")))
			return 0, nil
		}
		return 0, eris.Wrapf(err, "reconcile: fetch index for %s", day.Format("2006-01-02"))
	}

	entries, err := ParseIndex(body)
	if err != nil {
		return 0, eris.Wrapf(err, "reconcile: parse index for %s", day.Format("2006-01-02"))
	}

	known, err := r.store.ListAccessions(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "reconcile: list accessions")
	}

	var missing []model.Filing
	for _, e := range entries {
		if r.forms != nil {
			if _, ok := r.forms[strings.ToUpper(e.FormType)]; !ok {
				continue
			}
		}
		if _, ok := known[e.AccessionNumber()]; ok {
			continue
		}
		missing = append(missing, e.Filing())
	}

	if len(missing) == 0 {
		r.log.Info("index reconciled, nothing missing",
			zap.String("date", day.Format("2006-01-02")),
			zap.Int("entries", len(entries)))
		return 0, nil
	}

	var inserted int64
	for start := 0; start < len(missing); start += insertBatchSize {
		end := min(start+insertBatchSize, len(missing))
		n, err := r.store.BulkInsertFilings(ctx, missing[start:end])
		inserted += n
		if err != nil {
			return inserted, eris.Wrapf(err, "reconcile: insert filings for %s", day.Format("2006-01-02"))
		}
	}

	r.log.Info("index reconciled",
		zap.String("date", day.Format("2006-01-02")),
		zap.Int("entries", len(entries)),
		zap.Int("missing", len(missing)),
		zap.Int64("inserted", inserted))
	return inserted, nil
}

// Backfill reconciles every day in [from, to] inclusive. Days are isolated:
// a failed day is logged and the remaining days still run. Returns the total
// number of filings inserted and the last error seen, if any.
func (r *Reconciler) Backfill(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	var lastErr error

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		runID, err := r.store.StartRun(ctx, "reconcile")
		if err != nil {
			return total, eris.Wrap(err, "reconcile: start run")
		}

		n, err := r.ReconcileDate(ctx, day)
		total += n
		if err != nil {
			lastErr = err
			r.log.Error("day reconcile failed",
				zap.String("date", day.Format("2006-01-02")),
				zap.Error(err))
			if ferr := r.store.FailRun(ctx, runID, err.Error()); ferr != nil {
				r.log.Error("fail run record failed", zap.Error(ferr))
			}
			continue
		}
		if err := r.store.CompleteRun(ctx, runID, n); err != nil {
			r.log.Error("complete run record failed", zap.Error(err))
		}
	}
	return total, lastErr
}
