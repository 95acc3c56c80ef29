package factsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphaops/edgar-ingest/internal/fetcher"
	"github.com/alphaops/edgar-ingest/internal/model"
	"github.com/alphaops/edgar-ingest/internal/store"
)

const appleFacts = `{
	"cik": 320193,
	"entityName": "Apple Inc.",
	"facts": {
		"us-gaap": {
			"Revenues": {
				"label": "Revenues",
				"units": {
					"USD": [
						{"start": "2023-01-01", "end": "2023-12-31", "val": 100, "accn": "acc-1", "form": "10-K", "filed": "2024-02-01"},
						{"start": "2023-01-01", "end": "2023-12-31", "val": 105, "accn": "acc-2", "form": "10-K/A", "filed": "2024-06-01"}
					]
				}
			}
		}
	}
}`

type apiClient struct {
	bodies map[string][]byte
	errs   map[string]error
}

func (c *apiClient) FetchBytes(_ context.Context, url string) ([]byte, error) {
	if err := c.errs[url]; err != nil {
		return nil, err
	}
	body, ok := c.bodies[url]
	if !ok {
		return nil, &fetcher.StatusError{StatusCode: 404, URL: url}
	}
	return body, nil
}

func (c *apiClient) FetchText(ctx context.Context, url string) (string, error) {
	b, err := c.FetchBytes(ctx, url)
	return string(b), err
}

func (c *apiClient) FetchFeed(context.Context) ([]byte, error) {
	return nil, errors.New("no feed in factsync tests")
}

type factStore struct {
	store.Store

	ciks     []string
	replaced map[string][]model.Fact
}

func newFactStore(ciks ...string) *factStore {
	return &factStore{ciks: ciks, replaced: make(map[string][]model.Fact)}
}

func (s *factStore) DistinctCIKs(context.Context) ([]string, error) {
	return s.ciks, nil
}

func (s *factStore) ReplaceFacts(_ context.Context, cik string, facts []model.Fact) (int64, error) {
	s.replaced[cik] = facts
	return int64(len(facts)), nil
}

func TestCompanyFactsURL(t *testing.T) {
	assert.Equal(t,
		"https://data.sec.gov/api/xbrl/companyfacts/CIK0000320193.json",
		CompanyFactsURL("320193"))
	assert.Equal(t,
		"https://data.sec.gov/api/xbrl/companyfacts/CIK0000320193.json",
		CompanyFactsURL("0000320193"))
}

func TestSyncCIK_GatesAndStores(t *testing.T) {
	client := &apiClient{bodies: map[string][]byte{
		CompanyFactsURL("320193"): []byte(appleFacts),
	}}
	st := newFactStore()

	s := New(client, st)
	n, err := s.SyncCIK(context.Background(), "320193")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Stored under the padded CIK, amendment value kept.
	facts := st.replaced["0000320193"]
	require.Len(t, facts, 1)
	assert.Equal(t, "105", facts[0].Value)
	assert.Equal(t, "acc-2", facts[0].AccessionNumber)
}

func TestSyncCIK_UnknownIssuerIsZero(t *testing.T) {
	s := New(&apiClient{}, newFactStore())

	n, err := s.SyncCIK(context.Background(), "999")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncCIKs_IsolatesFailures(t *testing.T) {
	client := &apiClient{
		bodies: map[string][]byte{
			CompanyFactsURL("320193"): []byte(appleFacts),
		},
		errs: map[string]error{
			CompanyFactsURL("111"): errors.New("edgar down"),
		},
	}
	st := newFactStore()

	s := New(client, st)
	n, err := s.SyncCIKs(context.Background(), []string{"111", "320193"})

	require.Error(t, err)
	assert.Equal(t, int64(1), n, "the healthy issuer still synced")
	assert.Contains(t, st.replaced, "0000320193")
}

func TestSyncAll(t *testing.T) {
	client := &apiClient{bodies: map[string][]byte{
		CompanyFactsURL("320193"): []byte(appleFacts),
	}}
	st := newFactStore("320193")

	s := New(client, st)
	n, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
