// Package model defines the core records of the ingestion pipeline:
// filings discovered from EDGAR and the structured facts extracted from them.
package model

import "time"

// FilingState represents where a filing sits in the ingestion pipeline.
type FilingState string

const (
	StatePending    FilingState = "PENDING"
	StateDownloaded FilingState = "DOWNLOADED"
	StateProcessed  FilingState = "PROCESSED"
	StateFailed     FilingState = "FAILED"
)

// CanTransitionTo reports whether moving from s to next is a legal state
// transition. Forward-only: PENDING -> DOWNLOADED -> PROCESSED, with FAILED
// reachable from any non-terminal state. A FAILED filing may be manually
// re-queued back to PENDING.
func (s FilingState) CanTransitionTo(next FilingState) bool {
	switch s {
	case StatePending:
		return next == StateDownloaded || next == StateFailed
	case StateDownloaded:
		return next == StateProcessed || next == StateFailed
	case StateFailed:
		return next == StatePending
	default:
		return false
	}
}

// Filing is one regulatory document submission. Filings are append-only:
// created once per accession number, mutated only by the pipeline stages,
// never deleted.
type Filing struct {
	AccessionNumber string      `json:"accession_number"`
	CIK             string      `json:"cik"`
	FormType        string      `json:"form_type"`
	FiledAt         time.Time   `json:"filed_at"`
	SourceURL       string      `json:"source_url"`
	State           FilingState `json:"state"`
	BlobPath        string      `json:"blob_path,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// IngestRun records one watcher cycle, reconcile run, or facts sync.
type IngestRun struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	NewFilings  int64      `json:"new_filings"`
	Error       string     `json:"error,omitempty"`
}
