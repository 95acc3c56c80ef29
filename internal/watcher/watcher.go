package watcher

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alphaops/edgar-ingest/internal/blob"
	"github.com/alphaops/edgar-ingest/internal/fetcher"
	"github.com/alphaops/edgar-ingest/internal/model"
	"github.com/alphaops/edgar-ingest/internal/store"
)

// DefaultForms are the form types tracked when no explicit filter is set.
var DefaultForms = []string{"10-K", "10-Q", "8-K", "4", "SC 13G", "SC 13D"}

// cikPattern matches the zero-padded issuer id EDGAR embeds in entry titles,
// e.g. "4 - Smith John (0001234567) (Reporting)".
var cikPattern = regexp.MustCompile(`\((\d{10})\)`)

// Options configures a Watcher.
type Options struct {
	// Forms is the set of tracked form types; empty means DefaultForms.
	Forms []string
	// Interval is the delay between poll cycles in Run.
	Interval time.Duration
	// Cooldown is the delay after a failed cycle; zero means 5x Interval.
	// A broken feed should back off harder than the normal cadence.
	Cooldown time.Duration
	// FetchIndex controls whether the filing index page is downloaded to
	// blob storage as soon as the filing is discovered. Failures here are
	// logged and never block discovery.
	FetchIndex bool
}

// Watcher polls the EDGAR recent-filings feed and records new filings.
type Watcher struct {
	client fetcher.Client
	store  store.Store
	blobs  blob.Store
	parser *gofeed.Parser
	forms  map[string]struct{}
	opts   Options
	log    *zap.Logger
}

// New creates a Watcher. blobs may be nil when FetchIndex is disabled.
func New(client fetcher.Client, st store.Store, blobs blob.Store, opts Options) *Watcher {
	forms := opts.Forms
	if len(forms) == 0 {
		forms = DefaultForms
	}
	formSet := make(map[string]struct{}, len(forms))
	for _, f := range forms {
		formSet[strings.ToUpper(strings.TrimSpace(f))] = struct{}{}
	}
	return &Watcher{
		client: client,
		store:  st,
		blobs:  blobs,
		parser: gofeed.NewParser(),
		forms:  formSet,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "watcher")),
	}
}

// Poll runs one discovery cycle: fetch the feed, parse it, and insert any
// filings not already persisted. Returns the number of new filings.
func (w *Watcher) Poll(ctx context.Context) (int64, error) {
	raw, err := w.client.FetchFeed(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "watcher: fetch feed")
	}

	feed, err := w.parser.ParseString(string(raw))
	if err != nil {
		return 0, eris.Wrap(err, "watcher: parse feed")
	}

	var inserted int64
	for _, item := range feed.Items {
		filing, ok := w.parseEntry(item)
		if !ok {
			continue
		}
		if _, tracked := w.forms[strings.ToUpper(filing.FormType)]; !tracked {
			continue
		}

		created, err := w.store.InsertFilingIfAbsent(ctx, filing)
		if err != nil {
			// One bad row must not lose the rest of the feed; the entry
			// comes back on the next cycle or via reconcile.
			w.log.Error("insert filing failed",
				zap.String("accession", filing.AccessionNumber),
				zap.Error(err))
			continue
		}
		if !created {
			continue
		}
		inserted++
		w.log.Info("discovered filing",
			zap.String("accession", filing.AccessionNumber),
			zap.String("cik", filing.CIK),
			zap.String("form", filing.FormType))

		if w.opts.FetchIndex && w.blobs != nil && filing.SourceURL != "" {
			w.fetchIndexPage(ctx, filing)
		}
	}

	w.log.Info("poll complete",
		zap.Int("entries", len(feed.Items)),
		zap.Int64("new", inserted))
	return inserted, nil
}

// fetchIndexPage downloads the filing's index page into blob storage.
// Best effort: the filing stays PENDING either way and the pipeline will
// fetch the document itself later.
func (w *Watcher) fetchIndexPage(ctx context.Context, f model.Filing) {
	body, err := w.client.FetchBytes(ctx, f.SourceURL)
	if err != nil {
		w.log.Warn("index page fetch failed",
			zap.String("accession", f.AccessionNumber),
			zap.Error(err))
		return
	}
	key := blob.Key(f.CIK, f.AccessionNumber, "htm")
	if err := w.blobs.Put(ctx, key, body); err != nil {
		w.log.Warn("index page store failed",
			zap.String("accession", f.AccessionNumber),
			zap.Error(err))
	}
}

// parseEntry extracts a Filing from one feed entry. Entries missing an
// accession number are skipped.
func (w *Watcher) parseEntry(item *gofeed.Item) (model.Filing, bool) {
	accession := accessionFromID(item.GUID)
	if accession == "" {
		accession = accessionFromID(item.Link)
	}
	if accession == "" {
		w.log.Debug("entry without accession number", zap.String("title", item.Title))
		return model.Filing{}, false
	}

	var cik string
	if m := cikPattern.FindStringSubmatch(item.Title); m != nil {
		cik = m[1]
	}

	form := formFromEntry(item)

	var filedAt time.Time
	if item.UpdatedParsed != nil {
		filedAt = *item.UpdatedParsed
	} else if item.PublishedParsed != nil {
		filedAt = *item.PublishedParsed
	}

	return model.Filing{
		AccessionNumber: accession,
		CIK:             cik,
		FormType:        form,
		FiledAt:         filedAt,
		SourceURL:       fetcher.NormalizeURL(item.Link),
		State:           model.StatePending,
	}, true
}

// accessionFromID pulls the accession number out of an EDGAR entry id, e.g.
// "urn:tag:sec.gov,2008:accession-number=0001234567-24-000001".
func accessionFromID(id string) string {
	const marker = "accession-number="
	i := strings.Index(id, marker)
	if i < 0 {
		return ""
	}
	acc := id[i+len(marker):]
	if j := strings.IndexAny(acc, "&?#"); j >= 0 {
		acc = acc[:j]
	}
	return strings.TrimSpace(acc)
}

// formFromEntry reads the form type from the entry's category term, falling
// back to the title prefix ("10-K - ACME CORP ...").
func formFromEntry(item *gofeed.Item) string {
	for _, c := range item.Categories {
		if c != "" {
			return strings.TrimSpace(c)
		}
	}
	if before, _, found := strings.Cut(item.Title, " - "); found {
		return strings.TrimSpace(before)
	}
	return ""
}

// Run polls on a fixed interval until the context is cancelled. Each cycle is
// recorded in the ingest run log; a failed cycle is logged, the loop waits out
// the cooldown instead of the interval, and keeps going.
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	cooldown := w.opts.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * interval
	}

	for {
		delay := interval
		if err := w.runOnce(ctx); err != nil {
			delay = cooldown
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) error {
	runID, err := w.store.StartRun(ctx, "watch")
	if err != nil {
		w.log.Error("start run failed", zap.Error(err))
		return err
	}

	n, err := w.Poll(ctx)
	if err != nil {
		w.log.Error("poll failed", zap.Error(err))
		if ferr := w.store.FailRun(ctx, runID, err.Error()); ferr != nil {
			w.log.Error("fail run record failed", zap.Error(ferr))
		}
		return err
	}

	if err := w.store.CompleteRun(ctx, runID, n); err != nil {
		w.log.Error("complete run record failed", zap.Error(err))
	}
	return nil
}
