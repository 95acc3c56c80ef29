package factsync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alphaops/edgar-ingest/internal/fetcher"
	"github.com/alphaops/edgar-ingest/internal/store"
	"github.com/alphaops/edgar-ingest/internal/xbrl"
)

const companyFactsBase = "https://data.sec.gov/api/xbrl/companyfacts"

// CompanyFactsURL builds the structured-facts API URL for an issuer. The CIK
// is zero-padded to ten digits.
func CompanyFactsURL(cik string) string {
	return fmt.Sprintf("%s/CIK%010s.json", companyFactsBase, cik)
}

// Syncer bulk-loads structured company facts from the facts API, bypassing
// per-filing extraction.
type Syncer struct {
	client fetcher.Client
	store  store.Store
	log    *zap.Logger
}

// New creates a Syncer.
func New(client fetcher.Client, st store.Store) *Syncer {
	return &Syncer{
		client: client,
		store:  st,
		log:    zap.L().With(zap.String("component", "factsync")),
	}
}

// SyncCIK fetches, flattens, gates, and stores all facts for one issuer.
// Returns the number of facts persisted. An issuer unknown to the facts API
// counts as zero facts.
func (s *Syncer) SyncCIK(ctx context.Context, cik string) (int64, error) {
	url := CompanyFactsURL(cik)

	body, err := s.client.FetchBytes(ctx, url)
	if err != nil {
		if fetcher.IsNotFound(err) {
			s.log.Info("no structured facts for issuer", zap.String("cik", cik))
			return 0, nil
		}
		return 0, eris.Wrapf(err, "factsync: fetch facts for %s", cik)
	}

	cf, err := xbrl.ParseCompanyFacts(bytes.NewReader(body))
	if err != nil {
		return 0, eris.Wrapf(err, "factsync: parse facts for %s", cik)
	}

	facts := xbrl.Gate(xbrl.Flatten(cf))
	if len(facts) == 0 {
		s.log.Info("facts document empty", zap.String("cik", cik))
		return 0, nil
	}

	// Flatten pads the CIK; use it so storage and lookups agree.
	n, err := s.store.ReplaceFacts(ctx, facts[0].CIK, facts)
	if err != nil {
		return 0, eris.Wrapf(err, "factsync: store facts for %s", cik)
	}

	s.log.Info("facts synced",
		zap.String("cik", facts[0].CIK),
		zap.Int64("facts", n))
	return n, nil
}

// SyncCIKs syncs each issuer in turn. Issuers are isolated: a failure is
// logged and the rest still run. Returns the total facts persisted and the
// last error seen, if any.
func (s *Syncer) SyncCIKs(ctx context.Context, ciks []string) (int64, error) {
	var total int64
	var lastErr error

	for _, cik := range ciks {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.SyncCIK(ctx, cik)
		total += n
		if err != nil {
			lastErr = err
			s.log.Error("issuer sync failed", zap.String("cik", cik), zap.Error(err))
		}
	}
	return total, lastErr
}

// SyncAll syncs every issuer that has at least one filing on record.
func (s *Syncer) SyncAll(ctx context.Context) (int64, error) {
	ciks, err := s.store.DistinctCIKs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "factsync: list issuers")
	}
	s.log.Info("syncing all issuers", zap.Int("ciks", len(ciks)))
	return s.SyncCIKs(ctx, ciks)
}
