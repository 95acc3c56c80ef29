package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alphaops/edgar-ingest/internal/blob"
	"github.com/alphaops/edgar-ingest/internal/fetcher"
	"github.com/alphaops/edgar-ingest/internal/model"
	"github.com/alphaops/edgar-ingest/internal/store"
	"github.com/alphaops/edgar-ingest/internal/xbrl"
)

// Outcome is the result of running one task against one filing.
type Outcome int

const (
	// Done means the task ran and advanced the filing.
	Done Outcome = iota
	// NotReady means the filing is not in the state the task consumes.
	NotReady
	// Failed means the task errored. The filing keeps its current state so
	// the runner can re-attempt it; only the runner marks FAILED, after its
	// retry budget is spent.
	Failed
)

// Task advances a single filing through one lifecycle step.
type Task interface {
	Name() string
	Run(ctx context.Context, f model.Filing) (Outcome, error)
}

// DownloadTask fetches the primary document of a PENDING filing into blob
// storage and marks it DOWNLOADED.
type DownloadTask struct {
	client fetcher.Client
	store  store.Store
	blobs  blob.Store
	log    *zap.Logger
}

// NewDownloadTask creates a DownloadTask.
func NewDownloadTask(client fetcher.Client, st store.Store, blobs blob.Store) *DownloadTask {
	return &DownloadTask{
		client: client,
		store:  st,
		blobs:  blobs,
		log:    zap.L().With(zap.String("component", "pipeline.download")),
	}
}

func (t *DownloadTask) Name() string { return "download" }

// DocumentURL maps a filing's discovery URL to its full submission text file.
// Feed entries link the human index page ("...-index.htm"); the raw document
// lives next to it with a .txt extension.
func DocumentURL(sourceURL string) string {
	for _, suffix := range []string{"-index.htm", "-index.html"} {
		if strings.HasSuffix(sourceURL, suffix) {
			return strings.TrimSuffix(sourceURL, suffix) + ".txt"
		}
	}
	return sourceURL
}

func (t *DownloadTask) Run(ctx context.Context, f model.Filing) (Outcome, error) {
	if f.State != model.StatePending {
		return NotReady, nil
	}
	if f.SourceURL == "" {
		return Failed, eris.New("pipeline: filing has no source url")
	}

	url := DocumentURL(fetcher.NormalizeURL(f.SourceURL))
	body, err := t.client.FetchBytes(ctx, url)
	if err != nil {
		return Failed, eris.Wrapf(err, "pipeline: download %s", f.AccessionNumber)
	}

	key := blob.Key(f.CIK, f.AccessionNumber, "txt")
	if err := t.blobs.Put(ctx, key, body); err != nil {
		return Failed, eris.Wrapf(err, "pipeline: store %s", f.AccessionNumber)
	}

	if err := t.store.MarkDownloaded(ctx, f.AccessionNumber, key); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			// Another worker got there first.
			return NotReady, nil
		}
		return Failed, err
	}

	t.log.Info("downloaded",
		zap.String("accession", f.AccessionNumber),
		zap.Int("bytes", len(body)))
	return Done, nil
}

// ExtractTask parses the stored document of a DOWNLOADED filing, runs the
// facts through the quality gate, replaces the issuer's facts, and marks the
// filing PROCESSED.
type ExtractTask struct {
	store store.Store
	blobs blob.Store
	log   *zap.Logger
}

// NewExtractTask creates an ExtractTask.
func NewExtractTask(st store.Store, blobs blob.Store) *ExtractTask {
	return &ExtractTask{
		store: st,
		blobs: blobs,
		log:   zap.L().With(zap.String("component", "pipeline.extract")),
	}
}

func (t *ExtractTask) Name() string { return "extract" }

func (t *ExtractTask) Run(ctx context.Context, f model.Filing) (Outcome, error) {
	if f.State != model.StateDownloaded {
		return NotReady, nil
	}
	if f.BlobPath == "" {
		return Failed, eris.New("pipeline: filing has no blob path")
	}

	body, err := t.blobs.Get(ctx, f.BlobPath)
	if err != nil {
		return Failed, eris.Wrapf(err, "pipeline: load blob %s", f.BlobPath)
	}

	facts, err := xbrl.Parse(body, f.CIK, f.AccessionNumber)
	if err != nil {
		return Failed, eris.Wrapf(err, "pipeline: parse %s", f.AccessionNumber)
	}

	if len(facts) > 0 && f.CIK != "" {
		kept := xbrl.Gate(facts)
		if _, err := t.store.ReplaceFacts(ctx, f.CIK, kept); err != nil {
			return Failed, eris.Wrapf(err, "pipeline: replace facts for %s", f.CIK)
		}
		t.log.Info("facts extracted",
			zap.String("accession", f.AccessionNumber),
			zap.String("cik", f.CIK),
			zap.Int("raw", len(facts)),
			zap.Int("kept", len(kept)))
	} else {
		t.log.Info("no facts in document", zap.String("accession", f.AccessionNumber))
	}

	if err := t.store.MarkProcessed(ctx, f.AccessionNumber); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return NotReady, nil
		}
		return Failed, err
	}
	return Done, nil
}
