package xbrl

import (
	"sort"

	"go.uber.org/zap"

	"github.com/alphaops/edgar-ingest/internal/model"
)

// Gate is the mandatory deduplication pass before fact persistence. Facts
// are ordered by filed date descending and the first row per key is kept,
// so when an amendment restates a prior period the latest-filed value wins.
// The sort is stable: rows without a filed date, or with equal filed dates,
// keep their original relative order. Running the gate twice yields the same
// result as running it once.
func Gate(facts []model.Fact) []model.Fact {
	if len(facts) == 0 {
		return facts
	}

	ordered := make([]model.Fact, len(facts))
	copy(ordered, facts)

	// Filed dates are YYYY-MM-DD, so string comparison is date comparison.
	// Empty filed dates sort last.
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].FiledDate, ordered[j].FiledDate
		if a == "" || b == "" {
			return b == "" && a != ""
		}
		return a > b
	})

	seen := make(map[model.FactKey]struct{}, len(ordered))
	kept := ordered[:0]
	for _, f := range ordered {
		k := f.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, f)
	}

	if dropped := len(facts) - len(kept); dropped > 0 {
		zap.L().Info("quality gate dropped duplicate facts",
			zap.String("cik", kept[0].CIK),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(kept)),
		)
	}

	return kept
}
