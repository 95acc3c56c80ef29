package reconcile

import (
	"bufio"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/alphaops/edgar-ingest/internal/model"
)

const (
	archivesBase = "https://www.sec.gov/Archives/"
	indexBase    = "https://www.sec.gov/Archives/edgar/daily-index"

	// headerMarker is the column header line that separates the banner from
	// the data rows of a master index file.
	headerMarker = "CIK|Company Name|Form Type|Date Filed|Filename"
)

// IndexURL builds the daily master index URL for the given date, e.g.
// {base}/2024/QTR1/master.20240315.idx.
func IndexURL(day time.Time) string {
	quarter := (int(day.Month())-1)/3 + 1
	return fmt.Sprintf("%s/%d/QTR%d/master.%s.idx",
		indexBase, day.Year(), quarter, day.Format("20060102"))
}

// IndexEntry is one row of a daily master index file.
type IndexEntry struct {
	CIK         string
	CompanyName string
	FormType    string
	FiledDate   string // YYYY-MM-DD
	Filename    string // relative to the Archives root
}

// AccessionNumber derives the accession number from the entry's filename,
// the base name with its extension stripped, e.g.
// "edgar/data/320193/0000320193-24-000005.txt" -> "0000320193-24-000005".
func (e IndexEntry) AccessionNumber() string {
	base := path.Base(e.Filename)
	return strings.TrimSuffix(base, path.Ext(base))
}

// SourceURL is the absolute URL of the filing document.
func (e IndexEntry) SourceURL() string {
	return archivesBase + strings.TrimPrefix(e.Filename, "/")
}

// Filing converts the index entry to a pending filing record.
func (e IndexEntry) Filing() model.Filing {
	var filedAt time.Time
	if t, err := time.Parse("2006-01-02", e.FiledDate); err == nil {
		filedAt = t
	}
	return model.Filing{
		AccessionNumber: e.AccessionNumber(),
		CIK:             e.CIK,
		FormType:        e.FormType,
		FiledAt:         filedAt,
		SourceURL:       e.SourceURL(),
		State:           model.StatePending,
	}
}

// ParseIndex parses the body of a daily master index file. Everything up to
// and including the header line is ignored; rows with fewer than five
// pipe-separated fields are skipped.
func ParseIndex(body string) ([]IndexEntry, error) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var entries []IndexEntry
	inData := false
	for scanner.Scan() {
		line := scanner.Text()
		if !inData {
			if strings.HasPrefix(line, headerMarker) {
				inData = true
			}
			continue
		}
		if strings.HasPrefix(line, "---") || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.SplitN(line, "|", 5)
		if len(fields) < 5 {
			continue
		}
		entries = append(entries, IndexEntry{
			CIK:         strings.TrimSpace(fields[0]),
			CompanyName: strings.TrimSpace(fields[1]),
			FormType:    strings.TrimSpace(fields[2]),
			FiledDate:   strings.TrimSpace(fields[3]),
			Filename:    strings.TrimSpace(fields[4]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "reconcile: scan index")
	}
	if !inData {
		return nil, eris.New("reconcile: index header not found")
	}
	return entries, nil
}
