package model

// Fact is one structured numeric datum extracted from a filing. Period and
// filed dates are kept as YYYY-MM-DD strings exactly as EDGAR reports them;
// an empty string means the field is absent. A fact is either a duration fact
// (PeriodStart and PeriodEnd set) or an instant fact (only PeriodInstant set).
type Fact struct {
	CIK             string `json:"cik"`
	Taxonomy        string `json:"taxonomy"`
	Tag             string `json:"tag"`
	PeriodStart     string `json:"period_start,omitempty"`
	PeriodEnd       string `json:"period_end,omitempty"`
	PeriodInstant   string `json:"period_instant,omitempty"`
	Unit            string `json:"unit"`
	Value           string `json:"value"`
	AccessionNumber string `json:"accession_number,omitempty"`
	FiledDate       string `json:"filed_date,omitempty"`

	// ContextRef is the raw inline XBRL context reference. Kept for
	// traceability; period fields are not derived from it.
	ContextRef string `json:"context_ref,omitempty"`
}

// FactKey identifies a unique fact for deduplication. At most one fact per
// key survives the quality gate.
type FactKey struct {
	CIK           string
	Taxonomy      string
	Tag           string
	PeriodStart   string
	PeriodEnd     string
	PeriodInstant string
	Unit          string
}

// Key returns the deduplication key for the fact.
func (f Fact) Key() FactKey {
	return FactKey{
		CIK:           f.CIK,
		Taxonomy:      f.Taxonomy,
		Tag:           f.Tag,
		PeriodStart:   f.PeriodStart,
		PeriodEnd:     f.PeriodEnd,
		PeriodInstant: f.PeriodInstant,
		Unit:          f.Unit,
	}
}
