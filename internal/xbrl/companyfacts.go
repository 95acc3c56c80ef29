package xbrl

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"

	"github.com/alphaops/edgar-ingest/internal/model"
)

// CompanyFacts is the EDGAR bulk company facts JSON document, keyed by
// taxonomy, then concept tag, then unit.
type CompanyFacts struct {
	CIK        json.Number       `json:"cik"`
	EntityName string            `json:"entityName"`
	Facts      map[string]FactNS `json:"facts"`
}

// FactNS groups concepts within one taxonomy (e.g. "us-gaap", "dei").
type FactNS map[string]Concept

// Concept is a single XBRL concept with its values grouped by unit.
type Concept struct {
	Label       string                 `json:"label"`
	Description string                 `json:"description"`
	Units       map[string][]FactValue `json:"units"`
}

// FactValue is one data point. Absence of Start marks an instant fact, in
// which case End holds the instant date.
type FactValue struct {
	Start string      `json:"start,omitempty"`
	End   string      `json:"end"`
	Val   json.Number `json:"val"`
	Accn  string      `json:"accn"`
	FY    int         `json:"fy"`
	FP    string      `json:"fp"`
	Form  string      `json:"form"`
	Filed string      `json:"filed"`
	Frame string      `json:"frame,omitempty"`
}

// ParseCompanyFacts decodes a bulk company facts JSON document.
func ParseCompanyFacts(r io.Reader) (*CompanyFacts, error) {
	var cf CompanyFacts
	if err := json.NewDecoder(r).Decode(&cf); err != nil {
		return nil, eris.Wrap(err, "xbrl: parse company facts")
	}
	return &cf, nil
}

// Flatten turns the nested company facts document into Fact records with
// filed-date and accession provenance for the quality gate.
func Flatten(cf *CompanyFacts) []model.Fact {
	if cf == nil || len(cf.Facts) == 0 {
		return nil
	}

	cik := fmt.Sprintf("%010s", cf.CIK.String())

	var facts []model.Fact
	for taxonomy, concepts := range cf.Facts {
		for tag, concept := range concepts {
			for unit, values := range concept.Units {
				for _, v := range values {
					f := model.Fact{
						CIK:             cik,
						Taxonomy:        taxonomy,
						Tag:             tag,
						Unit:            unit,
						Value:           v.Val.String(),
						AccessionNumber: v.Accn,
						FiledDate:       v.Filed,
					}
					if v.Start == "" {
						// Instant fact: the JSON reuses "end" for the
						// instant date.
						f.PeriodInstant = v.End
					} else {
						f.PeriodStart = v.Start
						f.PeriodEnd = v.End
					}
					facts = append(facts, f)
				}
			}
		}
	}
	return facts
}
