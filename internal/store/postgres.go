package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/alphaops/edgar-ingest/internal/db"
	"github.com/alphaops/edgar-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot-path pipeline operations.
var preparedStatements = map[string]string{
	"insert_filing": `INSERT INTO filings (accession_number, cik, form_type, filed_at, source_url, state)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (accession_number) DO NOTHING`,
	"filing_exists":   `SELECT 1 FROM filings WHERE accession_number = $1`,
	"get_filing":      `SELECT accession_number, cik, form_type, filed_at, source_url, state, blob_path, last_error, created_at, updated_at FROM filings WHERE accession_number = $1`,
	"mark_downloaded": `UPDATE filings SET state = 'DOWNLOADED', blob_path = $2, updated_at = now() WHERE accession_number = $1 AND state = 'PENDING'`,
	"mark_processed":  `UPDATE filings SET state = 'PROCESSED', updated_at = now() WHERE accession_number = $1 AND state = 'DOWNLOADED'`,
	"mark_failed":     `UPDATE filings SET state = 'FAILED', last_error = $2, updated_at = now() WHERE accession_number = $1 AND state NOT IN ('PROCESSED', 'FAILED')`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool (tests use pgxmock here).
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS filings (
	accession_number TEXT PRIMARY KEY,
	cik              TEXT NOT NULL,
	form_type        TEXT NOT NULL DEFAULT '',
	filed_at         TIMESTAMPTZ,
	source_url       TEXT,
	state            TEXT NOT NULL DEFAULT 'PENDING',
	blob_path        TEXT,
	last_error       TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_filings_state ON filings(state);
CREATE INDEX IF NOT EXISTS idx_filings_cik ON filings(cik);
CREATE INDEX IF NOT EXISTS idx_filings_filed_at ON filings(filed_at);

CREATE TABLE IF NOT EXISTS facts (
	id               BIGSERIAL PRIMARY KEY,
	cik              TEXT NOT NULL,
	taxonomy         TEXT NOT NULL,
	tag              TEXT NOT NULL,
	period_start     TEXT,
	period_end       TEXT,
	period_instant   TEXT,
	unit             TEXT NOT NULL DEFAULT '',
	value            TEXT NOT NULL,
	accession_number TEXT,
	filed_date       TEXT,
	context_ref      TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_facts_cik ON facts(cik);
CREATE INDEX IF NOT EXISTS idx_facts_concept ON facts(taxonomy, tag);

CREATE TABLE IF NOT EXISTS ingest_log (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	new_filings  BIGINT NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_log_source ON ingest_log(source, started_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InsertFilingIfAbsent inserts the filing unless its accession number is
// already known. Returns true if a row was created.
func (s *PostgresStore) InsertFilingIfAbsent(ctx context.Context, f model.Filing) (bool, error) {
	state := f.State
	if state == "" {
		state = model.StatePending
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO filings (accession_number, cik, form_type, filed_at, source_url, state)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (accession_number) DO NOTHING`,
		f.AccessionNumber, f.CIK, f.FormType, f.FiledAt, f.SourceURL, string(state),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert filing %s", f.AccessionNumber)
	}
	return tag.RowsAffected() == 1, nil
}

// FilingExists reports whether the accession number is already persisted.
func (s *PostgresStore) FilingExists(ctx context.Context, accession string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM filings WHERE accession_number = $1`, accession,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: filing exists %s", accession)
	}
	return true, nil
}

// GetFiling loads one filing by accession number; nil if unknown.
func (s *PostgresStore) GetFiling(ctx context.Context, accession string) (*model.Filing, error) {
	var f model.Filing
	var filedAt, createdAt, updatedAt *time.Time
	var sourceURL, blobPath, lastError *string
	err := s.pool.QueryRow(ctx,
		`SELECT accession_number, cik, form_type, filed_at, source_url, state, blob_path, last_error, created_at, updated_at
		 FROM filings WHERE accession_number = $1`, accession,
	).Scan(&f.AccessionNumber, &f.CIK, &f.FormType, &filedAt, &sourceURL, &f.State, &blobPath, &lastError, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get filing %s", accession)
	}
	if filedAt != nil {
		f.FiledAt = *filedAt
	}
	if sourceURL != nil {
		f.SourceURL = *sourceURL
	}
	if blobPath != nil {
		f.BlobPath = *blobPath
	}
	if lastError != nil {
		f.LastError = *lastError
	}
	if createdAt != nil {
		f.CreatedAt = *createdAt
	}
	if updatedAt != nil {
		f.UpdatedAt = *updatedAt
	}
	return &f, nil
}

// ListAccessions bulk-loads the set of all persisted accession numbers for
// reconciliation diffs.
func (s *PostgresStore) ListAccessions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT accession_number FROM filings`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list accessions")
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var acc string
		if err := rows.Scan(&acc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan accession")
		}
		set[acc] = struct{}{}
	}
	return set, rows.Err()
}

// BulkInsertFilings inserts filings in batches, skipping accession numbers
// that already exist. Returns the number of rows actually created.
func (s *PostgresStore) BulkInsertFilings(ctx context.Context, filings []model.Filing) (int64, error) {
	const batchSize = 1000

	cols := []string{"accession_number", "cik", "form_type", "filed_at", "source_url", "state"}
	var total int64

	for start := 0; start < len(filings); start += batchSize {
		end := min(start+batchSize, len(filings))

		rows := make([][]any, 0, end-start)
		for _, f := range filings[start:end] {
			state := f.State
			if state == "" {
				state = model.StatePending
			}
			rows = append(rows, []any{
				f.AccessionNumber, f.CIK, f.FormType, f.FiledAt, f.SourceURL, string(state),
			})
		}

		n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertIgnoreConfig{
			Table:        "filings",
			Columns:      cols,
			ConflictKeys: []string{"accession_number"},
		}, rows)
		if err != nil {
			return total, eris.Wrap(err, "postgres: bulk insert filings")
		}
		total += n
	}
	return total, nil
}

// ListByState returns filings in the given state, oldest first.
func (s *PostgresStore) ListByState(ctx context.Context, state model.FilingState, limit int) ([]model.Filing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT accession_number, cik, form_type, filed_at, source_url, state, blob_path, last_error, created_at, updated_at
		 FROM filings WHERE state = $1 ORDER BY created_at ASC LIMIT $2`,
		string(state), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list filings by state %s", state)
	}
	defer rows.Close()

	var out []model.Filing
	for rows.Next() {
		var f model.Filing
		var filedAt, createdAt, updatedAt *time.Time
		var sourceURL, blobPath, lastError *string
		if err := rows.Scan(&f.AccessionNumber, &f.CIK, &f.FormType, &filedAt, &sourceURL, &f.State, &blobPath, &lastError, &createdAt, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan filing")
		}
		if filedAt != nil {
			f.FiledAt = *filedAt
		}
		if sourceURL != nil {
			f.SourceURL = *sourceURL
		}
		if blobPath != nil {
			f.BlobPath = *blobPath
		}
		if lastError != nil {
			f.LastError = *lastError
		}
		if createdAt != nil {
			f.CreatedAt = *createdAt
		}
		if updatedAt != nil {
			f.UpdatedAt = *updatedAt
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountByState returns filing counts grouped by state.
func (s *PostgresStore) CountByState(ctx context.Context) (map[model.FilingState]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, count(*) FROM filings GROUP BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by state")
	}
	defer rows.Close()

	counts := make(map[model.FilingState]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state count")
		}
		counts[model.FilingState(state)] = n
	}
	return counts, rows.Err()
}

// DistinctCIKs returns every issuer id with at least one filing.
func (s *PostgresStore) DistinctCIKs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT cik FROM filings WHERE cik != '' ORDER BY cik`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: distinct ciks")
	}
	defer rows.Close()

	var ciks []string
	for rows.Next() {
		var cik string
		if err := rows.Scan(&cik); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cik")
		}
		ciks = append(ciks, cik)
	}
	return ciks, rows.Err()
}

func (s *PostgresStore) guardedUpdate(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// MarkDownloaded flips a PENDING filing to DOWNLOADED and records its blob path.
func (s *PostgresStore) MarkDownloaded(ctx context.Context, accession, blobPath string) error {
	err := s.guardedUpdate(ctx,
		`UPDATE filings SET state = 'DOWNLOADED', blob_path = $2, updated_at = now()
		 WHERE accession_number = $1 AND state = 'PENDING'`,
		accession, blobPath,
	)
	return eris.Wrapf(err, "postgres: mark downloaded %s", accession)
}

// MarkProcessed flips a DOWNLOADED filing to PROCESSED.
func (s *PostgresStore) MarkProcessed(ctx context.Context, accession string) error {
	err := s.guardedUpdate(ctx,
		`UPDATE filings SET state = 'PROCESSED', updated_at = now()
		 WHERE accession_number = $1 AND state = 'DOWNLOADED'`,
		accession,
	)
	return eris.Wrapf(err, "postgres: mark processed %s", accession)
}

// MarkFailed moves any in-flight filing to FAILED and records the failure
// reason. Already-terminal filings are left alone.
func (s *PostgresStore) MarkFailed(ctx context.Context, accession, reason string) error {
	err := s.guardedUpdate(ctx,
		`UPDATE filings SET state = 'FAILED', last_error = $2, updated_at = now()
		 WHERE accession_number = $1 AND state NOT IN ('PROCESSED', 'FAILED')`,
		accession, reason,
	)
	return eris.Wrapf(err, "postgres: mark failed %s", accession)
}

// Requeue manually moves a FAILED filing back to PENDING and clears the
// recorded failure.
func (s *PostgresStore) Requeue(ctx context.Context, accession string) error {
	err := s.guardedUpdate(ctx,
		`UPDATE filings SET state = 'PENDING', last_error = NULL, updated_at = now()
		 WHERE accession_number = $1 AND state = 'FAILED'`,
		accession,
	)
	return eris.Wrapf(err, "postgres: requeue %s", accession)
}

var factColumns = []string{
	"cik", "taxonomy", "tag", "period_start", "period_end", "period_instant",
	"unit", "value", "accession_number", "filed_date", "context_ref",
}

// ReplaceFacts deletes all facts for the issuer and inserts the new batch in
// one transaction, so re-extraction never leaves a partial merge.
func (s *PostgresStore) ReplaceFacts(ctx context.Context, cik string, facts []model.Fact) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace facts: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM facts WHERE cik = $1`, cik); err != nil {
		return 0, eris.Wrapf(err, "postgres: delete facts for %s", cik)
	}

	rows := make([][]any, 0, len(facts))
	for _, f := range facts {
		rows = append(rows, []any{
			f.CIK, f.Taxonomy, f.Tag,
			nullable(f.PeriodStart), nullable(f.PeriodEnd), nullable(f.PeriodInstant),
			f.Unit, f.Value,
			nullable(f.AccessionNumber), nullable(f.FiledDate), nullable(f.ContextRef),
		})
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, pgx.Identifier{"facts"}, factColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: copy facts for %s", cik)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: replace facts: commit")
	}
	return n, nil
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// StartRun records the beginning of an ingest run and returns its ID.
func (s *PostgresStore) StartRun(ctx context.Context, source string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_log (id, source, status, started_at) VALUES ($1, $2, 'running', now())`,
		id, source,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start run %s", source)
	}
	return id, nil
}

// CompleteRun marks an ingest run as finished with its new-filing count.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, newFilings int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ingest_log SET status = 'complete', completed_at = now(), new_filings = $2 WHERE id = $1`,
		runID, newFilings,
	)
	return eris.Wrapf(err, "postgres: complete run %s", runID)
}

// FailRun marks an ingest run as failed with an error message.
func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ingest_log SET status = 'failed', completed_at = now(), error = $2 WHERE id = $1`,
		runID, errMsg,
	)
	return eris.Wrapf(err, "postgres: fail run %s", runID)
}

// ListRuns returns recent ingest runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, new_filings, error
		 FROM ingest_log ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var errMsg *string
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.StartedAt, &r.CompletedAt, &r.NewFilings, &errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
