package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/alphaops/edgar-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// development and tests; multi-process deployments should use Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS filings (
	accession_number TEXT PRIMARY KEY,
	cik              TEXT NOT NULL,
	form_type        TEXT NOT NULL DEFAULT '',
	filed_at         DATETIME,
	source_url       TEXT,
	state            TEXT NOT NULL DEFAULT 'PENDING',
	blob_path        TEXT,
	last_error       TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_filings_state ON filings(state);
CREATE INDEX IF NOT EXISTS idx_filings_cik ON filings(cik);

CREATE TABLE IF NOT EXISTS facts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
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
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_facts_cik ON facts(cik);
CREATE INDEX IF NOT EXISTS idx_facts_concept ON facts(taxonomy, tag);

CREATE TABLE IF NOT EXISTS ingest_log (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	new_filings  INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertFilingIfAbsent inserts the filing unless its accession number is
// already known. Returns true if a row was created.
func (s *SQLiteStore) InsertFilingIfAbsent(ctx context.Context, f model.Filing) (bool, error) {
	state := f.State
	if state == "" {
		state = model.StatePending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO filings (accession_number, cik, form_type, filed_at, source_url, state)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.AccessionNumber, f.CIK, f.FormType, sqliteTime(f.FiledAt), f.SourceURL, string(state),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert filing %s", f.AccessionNumber)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// FilingExists reports whether the accession number is already persisted.
func (s *SQLiteStore) FilingExists(ctx context.Context, accession string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM filings WHERE accession_number = ?`, accession,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: filing exists %s", accession)
	}
	return true, nil
}

// GetFiling loads one filing by accession number; nil if unknown.
func (s *SQLiteStore) GetFiling(ctx context.Context, accession string) (*model.Filing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT accession_number, cik, form_type, filed_at, source_url, state, blob_path, last_error, created_at, updated_at
		 FROM filings WHERE accession_number = ?`, accession,
	)
	f, err := scanSQLiteFiling(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get filing %s", accession)
	}
	return f, nil
}

func scanSQLiteFiling(scan func(dest ...any) error) (*model.Filing, error) {
	var f model.Filing
	var filedAt, createdAt, updatedAt, sourceURL, blobPath, lastError sql.NullString
	if err := scan(&f.AccessionNumber, &f.CIK, &f.FormType, &filedAt, &sourceURL, &f.State, &blobPath, &lastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	f.FiledAt = parseSQLiteTime(filedAt.String)
	f.CreatedAt = parseSQLiteTime(createdAt.String)
	f.UpdatedAt = parseSQLiteTime(updatedAt.String)
	f.SourceURL = sourceURL.String
	f.BlobPath = blobPath.String
	f.LastError = lastError.String
	return &f, nil
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

func sqliteTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(sqliteTimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// ListAccessions bulk-loads the set of all persisted accession numbers.
func (s *SQLiteStore) ListAccessions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT accession_number FROM filings`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list accessions")
	}
	defer rows.Close() //nolint:errcheck

	set := make(map[string]struct{})
	for rows.Next() {
		var acc string
		if err := rows.Scan(&acc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan accession")
		}
		set[acc] = struct{}{}
	}
	return set, rows.Err()
}

// BulkInsertFilings inserts filings in batched transactions, skipping
// accession numbers that already exist.
func (s *SQLiteStore) BulkInsertFilings(ctx context.Context, filings []model.Filing) (int64, error) {
	const batchSize = 1000
	var total int64

	for start := 0; start < len(filings); start += batchSize {
		end := min(start+batchSize, len(filings))

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return total, eris.Wrap(err, "sqlite: bulk insert: begin")
		}

		for _, f := range filings[start:end] {
			state := f.State
			if state == "" {
				state = model.StatePending
			}
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO filings (accession_number, cik, form_type, filed_at, source_url, state)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				f.AccessionNumber, f.CIK, f.FormType, sqliteTime(f.FiledAt), f.SourceURL, string(state),
			)
			if err != nil {
				tx.Rollback() //nolint:errcheck
				return total, eris.Wrapf(err, "sqlite: bulk insert %s", f.AccessionNumber)
			}
			if n, err := res.RowsAffected(); err == nil {
				total += n
			}
		}

		if err := tx.Commit(); err != nil {
			return total, eris.Wrap(err, "sqlite: bulk insert: commit")
		}
	}
	return total, nil
}

// ListByState returns filings in the given state, oldest first.
func (s *SQLiteStore) ListByState(ctx context.Context, state model.FilingState, limit int) ([]model.Filing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT accession_number, cik, form_type, filed_at, source_url, state, blob_path, last_error, created_at, updated_at
		 FROM filings WHERE state = ? ORDER BY created_at ASC LIMIT ?`,
		string(state), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list filings by state %s", state)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Filing
	for rows.Next() {
		f, err := scanSQLiteFiling(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan filing")
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// CountByState returns filing counts grouped by state.
func (s *SQLiteStore) CountByState(ctx context.Context) (map[model.FilingState]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, count(*) FROM filings GROUP BY state`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by state")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.FilingState]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state count")
		}
		counts[model.FilingState(state)] = n
	}
	return counts, rows.Err()
}

// DistinctCIKs returns every issuer id with at least one filing.
func (s *SQLiteStore) DistinctCIKs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT cik FROM filings WHERE cik != '' ORDER BY cik`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: distinct ciks")
	}
	defer rows.Close() //nolint:errcheck

	var ciks []string
	for rows.Next() {
		var cik string
		if err := rows.Scan(&cik); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cik")
		}
		ciks = append(ciks, cik)
	}
	return ciks, rows.Err()
}

func (s *SQLiteStore) guardedUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}

// MarkDownloaded flips a PENDING filing to DOWNLOADED and records its blob path.
func (s *SQLiteStore) MarkDownloaded(ctx context.Context, accession, blobPath string) error {
	err := s.guardedUpdate(ctx,
		`UPDATE filings SET state = 'DOWNLOADED', blob_path = ?, updated_at = datetime('now')
		 WHERE accession_number = ? AND state = 'PENDING'`,
		blobPath, accession,
	)
	return eris.Wrapf(err, "sqlite: mark downloaded %s", accession)
}

// MarkProcessed flips a DOWNLOADED filing to PROCESSED.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, accession string) error {
	err := s.guardedUpdate(ctx,
		`UPDATE filings SET state = 'PROCESSED', updated_at = datetime('now')
		 WHERE accession_number = ? AND state = 'DOWNLOADED'`,
		accession,
	)
	return eris.Wrapf(err, "sqlite: mark processed %s", accession)
}

// MarkFailed moves any in-flight filing to FAILED and records the failure
// reason.
func (s *SQLiteStore) MarkFailed(ctx context.Context, accession, reason string) error {
	err := s.guardedUpdate(ctx,
		`UPDATE filings SET state = 'FAILED', last_error = ?, updated_at = datetime('now')
		 WHERE accession_number = ? AND state NOT IN ('PROCESSED', 'FAILED')`,
		reason, accession,
	)
	return eris.Wrapf(err, "sqlite: mark failed %s", accession)
}

// Requeue manually moves a FAILED filing back to PENDING and clears the
// recorded failure.
func (s *SQLiteStore) Requeue(ctx context.Context, accession string) error {
	err := s.guardedUpdate(ctx,
		`UPDATE filings SET state = 'PENDING', last_error = NULL, updated_at = datetime('now')
		 WHERE accession_number = ? AND state = 'FAILED'`,
		accession,
	)
	return eris.Wrapf(err, "sqlite: requeue %s", accession)
}

// ReplaceFacts deletes all facts for the issuer and inserts the new batch in
// one transaction.
func (s *SQLiteStore) ReplaceFacts(ctx context.Context, cik string, facts []model.Fact) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: replace facts: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE cik = ?`, cik); err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete facts for %s", cik)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO facts (cik, taxonomy, tag, period_start, period_end, period_instant,
		                    unit, value, accession_number, filed_date, context_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare fact insert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, f := range facts {
		if _, err := stmt.ExecContext(ctx,
			f.CIK, f.Taxonomy, f.Tag,
			nullable(f.PeriodStart), nullable(f.PeriodEnd), nullable(f.PeriodInstant),
			f.Unit, f.Value,
			nullable(f.AccessionNumber), nullable(f.FiledDate), nullable(f.ContextRef),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert fact for %s", cik)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: replace facts: commit")
	}
	return n, nil
}

// StartRun records the beginning of an ingest run and returns its ID.
func (s *SQLiteStore) StartRun(ctx context.Context, source string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_log (id, source, status) VALUES (?, ?, 'running')`,
		id, source,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start run %s", source)
	}
	return id, nil
}

// CompleteRun marks an ingest run as finished with its new-filing count.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, newFilings int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_log SET status = 'complete', completed_at = datetime('now'), new_filings = ? WHERE id = ?`,
		newFilings, runID,
	)
	return eris.Wrapf(err, "sqlite: complete run %s", runID)
}

// FailRun marks an ingest run as failed with an error message.
func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_log SET status = 'failed', completed_at = datetime('now'), error = ? WHERE id = ?`,
		errMsg, runID,
	)
	return eris.Wrapf(err, "sqlite: fail run %s", runID)
}

// ListRuns returns recent ingest runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at, new_filings, error
		 FROM ingest_log ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var startedAt string
		var completedAt, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &startedAt, &completedAt, &r.NewFilings, &errMsg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.StartedAt = parseSQLiteTime(startedAt)
		if completedAt.Valid {
			t := parseSQLiteTime(completedAt.String)
			r.CompletedAt = &t
		}
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
