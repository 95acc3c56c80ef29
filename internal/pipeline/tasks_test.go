package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphaops/edgar-ingest/internal/model"
	"github.com/alphaops/edgar-ingest/internal/store"
)

const inlineFixture = `<html xmlns:ix="http://www.xbrl.org/2013/inlineXBRL">
<ix:nonFraction name="us-gaap:Revenues" contextRef="FY" unitRef="usd" scale="3">10</ix:nonFraction>
</html>`

type fakeClient struct {
	body []byte
	err  error
	urls []string
}

func (c *fakeClient) FetchBytes(_ context.Context, url string) ([]byte, error) {
	c.urls = append(c.urls, url)
	return c.body, c.err
}

func (c *fakeClient) FetchText(ctx context.Context, url string) (string, error) {
	b, err := c.FetchBytes(ctx, url)
	return string(b), err
}

func (c *fakeClient) FetchFeed(context.Context) ([]byte, error) {
	return nil, errors.New("no feed in pipeline tests")
}

type fakeBlob struct {
	data   map[string][]byte
	putErr error
	getErr error
}

func newFakeBlob() *fakeBlob { return &fakeBlob{data: make(map[string][]byte)} }

func (b *fakeBlob) Put(_ context.Context, key string, data []byte) error {
	if b.putErr != nil {
		return b.putErr
	}
	b.data[key] = data
	return nil
}

func (b *fakeBlob) Get(_ context.Context, key string) ([]byte, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.data[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (b *fakeBlob) Exists(_ context.Context, key string) (bool, error) {
	_, ok := b.data[key]
	return ok, nil
}

type fakeStore struct {
	store.Store

	filings  map[string]*model.Filing
	replaced map[string][]model.Fact
}

func newFakeStore(filings ...model.Filing) *fakeStore {
	s := &fakeStore{
		filings:  make(map[string]*model.Filing),
		replaced: make(map[string][]model.Fact),
	}
	for i := range filings {
		f := filings[i]
		s.filings[f.AccessionNumber] = &f
	}
	return s
}

func (s *fakeStore) transition(accession string, from, to model.FilingState) error {
	f, ok := s.filings[accession]
	if !ok || f.State != from {
		return store.ErrStateConflict
	}
	f.State = to
	return nil
}

func (s *fakeStore) MarkDownloaded(_ context.Context, accession, blobPath string) error {
	if err := s.transition(accession, model.StatePending, model.StateDownloaded); err != nil {
		return err
	}
	s.filings[accession].BlobPath = blobPath
	return nil
}

func (s *fakeStore) MarkProcessed(_ context.Context, accession string) error {
	return s.transition(accession, model.StateDownloaded, model.StateProcessed)
}

func (s *fakeStore) MarkFailed(_ context.Context, accession, reason string) error {
	f, ok := s.filings[accession]
	if !ok || f.State == model.StateProcessed || f.State == model.StateFailed {
		return store.ErrStateConflict
	}
	f.State = model.StateFailed
	f.LastError = reason
	return nil
}

func (s *fakeStore) Requeue(_ context.Context, accession string) error {
	if err := s.transition(accession, model.StateFailed, model.StatePending); err != nil {
		return err
	}
	s.filings[accession].LastError = ""
	return nil
}

func (s *fakeStore) ReplaceFacts(_ context.Context, cik string, facts []model.Fact) (int64, error) {
	s.replaced[cik] = facts
	return int64(len(facts)), nil
}

func (s *fakeStore) ListByState(_ context.Context, state model.FilingState, limit int) ([]model.Filing, error) {
	var out []model.Filing
	for _, f := range s.filings {
		if f.State == state && len(out) < limit {
			out = append(out, *f)
		}
	}
	return out, nil
}

func pendingFiling() model.Filing {
	return model.Filing{
		AccessionNumber: "0000320193-24-000005",
		CIK:             "0000320193",
		FormType:        "10-K",
		SourceURL:       "https://www.sec.gov/Archives/edgar/data/320193/000032019324000005/0000320193-24-000005-index.htm",
		State:           model.StatePending,
	}
}

func TestDocumentURL(t *testing.T) {
	assert.Equal(t,
		"https://www.sec.gov/Archives/x/0000320193-24-000005.txt",
		DocumentURL("https://www.sec.gov/Archives/x/0000320193-24-000005-index.htm"))
	assert.Equal(t,
		"https://www.sec.gov/Archives/x/doc.txt",
		DocumentURL("https://www.sec.gov/Archives/x/doc.txt"))
}

func TestDownloadTask_HappyPath(t *testing.T) {
	f := pendingFiling()
	st := newFakeStore(f)
	client := &fakeClient{body: []byte("document body")}
	blobs := newFakeBlob()

	task := NewDownloadTask(client, st, blobs)
	outcome, err := task.Run(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, Done, outcome)

	// Fetches the raw submission, not the index page.
	require.Len(t, client.urls, 1)
	assert.Equal(t,
		"https://www.sec.gov/Archives/edgar/data/320193/000032019324000005/0000320193-24-000005.txt",
		client.urls[0])

	got := st.filings[f.AccessionNumber]
	assert.Equal(t, model.StateDownloaded, got.State)
	assert.Equal(t, "raw/0000320193/0000320193-24-000005.txt", got.BlobPath)
	assert.Contains(t, blobs.data, got.BlobPath)
}

func TestDownloadTask_WrongStateNotReady(t *testing.T) {
	f := pendingFiling()
	f.State = model.StateDownloaded
	task := NewDownloadTask(&fakeClient{}, newFakeStore(f), newFakeBlob())

	outcome, err := task.Run(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, NotReady, outcome)
}

func TestDownloadTask_FetchErrorLeavesStateForRetry(t *testing.T) {
	f := pendingFiling()
	st := newFakeStore(f)
	task := NewDownloadTask(&fakeClient{err: errors.New("edgar down")}, st, newFakeBlob())

	outcome, err := task.Run(context.Background(), f)
	require.Error(t, err)
	assert.Equal(t, Failed, outcome)
	// Only the runner marks FAILED; the filing stays eligible for retry.
	assert.Equal(t, model.StatePending, st.filings[f.AccessionNumber].State)
}

func TestDownloadTask_BlobErrorLeavesStateForRetry(t *testing.T) {
	f := pendingFiling()
	st := newFakeStore(f)
	blobs := newFakeBlob()
	blobs.putErr = errors.New("disk full")
	task := NewDownloadTask(&fakeClient{body: []byte("x")}, st, blobs)

	outcome, err := task.Run(context.Background(), f)
	require.Error(t, err)
	assert.Equal(t, Failed, outcome)
	assert.Equal(t, model.StatePending, st.filings[f.AccessionNumber].State)
}

func TestExtractTask_HappyPath(t *testing.T) {
	f := pendingFiling()
	f.State = model.StateDownloaded
	f.BlobPath = "raw/0000320193/0000320193-24-000005.txt"
	st := newFakeStore(f)
	blobs := newFakeBlob()
	blobs.data[f.BlobPath] = []byte(inlineFixture)

	task := NewExtractTask(st, blobs)
	outcome, err := task.Run(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, Done, outcome)
	assert.Equal(t, model.StateProcessed, st.filings[f.AccessionNumber].State)

	facts := st.replaced["0000320193"]
	require.Len(t, facts, 1)
	assert.Equal(t, "Revenues", facts[0].Tag)
	assert.Equal(t, "10000", facts[0].Value)
}

func TestExtractTask_WrongStateNotReady(t *testing.T) {
	f := pendingFiling() // still PENDING
	task := NewExtractTask(newFakeStore(f), newFakeBlob())

	outcome, err := task.Run(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, NotReady, outcome)
}

func TestExtractTask_MissingBlobLeavesStateForRetry(t *testing.T) {
	f := pendingFiling()
	f.State = model.StateDownloaded
	f.BlobPath = "raw/gone.txt"
	st := newFakeStore(f)

	task := NewExtractTask(st, newFakeBlob())
	outcome, err := task.Run(context.Background(), f)
	require.Error(t, err)
	assert.Equal(t, Failed, outcome)
	assert.Equal(t, model.StateDownloaded, st.filings[f.AccessionNumber].State)
}

func TestExtractTask_NoFactsStillProcessed(t *testing.T) {
	f := pendingFiling()
	f.State = model.StateDownloaded
	f.BlobPath = "raw/x.txt"
	st := newFakeStore(f)
	blobs := newFakeBlob()
	blobs.data[f.BlobPath] = []byte(`<?xml version="1.0"?><xbrl></xbrl>`)

	task := NewExtractTask(st, blobs)
	outcome, err := task.Run(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, Done, outcome)
	assert.Equal(t, model.StateProcessed, st.filings[f.AccessionNumber].State)
	assert.Empty(t, st.replaced)
}

func TestRunner_DrainsBothStages(t *testing.T) {
	f := pendingFiling()
	st := newFakeStore(f)
	client := &fakeClient{body: []byte(inlineFixture)}
	blobs := newFakeBlob()

	runner := NewRunner(st,
		NewDownloadTask(client, st, blobs),
		NewExtractTask(st, blobs),
		RunnerOptions{Workers: 2, BatchSize: 10})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Downloaded)
	assert.Equal(t, int64(1), stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, model.StateProcessed, st.filings[f.AccessionNumber].State)
}

func TestRunner_FailuresDoNotAbortBatch(t *testing.T) {
	good := pendingFiling()
	bad := pendingFiling()
	bad.AccessionNumber = "0000111222-24-000003"
	bad.SourceURL = "" // no source URL, download must fail

	st := newFakeStore(good, bad)
	client := &fakeClient{body: []byte("doc")}
	blobs := newFakeBlob()

	runner := NewRunner(st,
		NewDownloadTask(client, st, blobs),
		NewExtractTask(st, blobs),
		RunnerOptions{Workers: 1, BatchSize: 10})

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Downloaded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, model.StateFailed, st.filings[bad.AccessionNumber].State)
	assert.Equal(t, model.StateProcessed, st.filings[good.AccessionNumber].State)
}

// stubTask lets runner tests script per-attempt behavior. Use Workers: 1,
// the call counter is not synchronized.
type stubTask struct {
	name  string
	calls int
	run   func(call int, f model.Filing) (Outcome, error)
}

func (t *stubTask) Name() string { return t.name }

func (t *stubTask) Run(_ context.Context, f model.Filing) (Outcome, error) {
	t.calls++
	return t.run(t.calls, f)
}

func TestRunner_RetriesBeforeMarkingFailed(t *testing.T) {
	f := pendingFiling()
	st := newFakeStore(f)

	flaky := &stubTask{name: "download", run: func(call int, f model.Filing) (Outcome, error) {
		if call < 3 {
			return Failed, errors.New("edgar hiccup")
		}
		if err := st.MarkDownloaded(context.Background(), f.AccessionNumber, "raw/x.txt"); err != nil {
			return Failed, err
		}
		return Done, nil
	}}
	idle := &stubTask{name: "extract", run: func(int, model.Filing) (Outcome, error) {
		return NotReady, nil
	}}

	runner := NewRunner(st, flaky, idle, RunnerOptions{Workers: 1, BatchSize: 10, MaxAttempts: 3})
	stats, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, int64(1), stats.Downloaded)
	assert.Zero(t, stats.Failed)
	got := st.filings[f.AccessionNumber]
	assert.Equal(t, model.StateDownloaded, got.State)
	assert.Empty(t, got.LastError)
}

func TestRunner_ExhaustedAttemptsMarkFailed(t *testing.T) {
	f := pendingFiling()
	st := newFakeStore(f)

	broken := &stubTask{name: "download", run: func(int, model.Filing) (Outcome, error) {
		return Failed, errors.New("document truncated")
	}}
	idle := &stubTask{name: "extract", run: func(int, model.Filing) (Outcome, error) {
		return NotReady, nil
	}}

	runner := NewRunner(st, broken, idle, RunnerOptions{Workers: 1, BatchSize: 10, MaxAttempts: 2})
	stats, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, broken.calls)
	assert.Equal(t, int64(1), stats.Failed)
	got := st.filings[f.AccessionNumber]
	assert.Equal(t, model.StateFailed, got.State)
	assert.Contains(t, got.LastError, "document truncated")
}
