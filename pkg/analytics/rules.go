package analytics

import (
	"errors"
	"fmt"
	"math"
)

// Threshold holds the cut-offs for one metric. Overvalued is only consulted
// for lower-is-better metrics and may be absent.
type Threshold struct {
	Undervalued float64  `json:"undervalued" toml:"undervalued"`
	Overvalued  *float64 `json:"overvalued,omitempty" toml:"overvalued,omitempty"`
}

// HighlightRules are the user-editable scoring thresholds.
type HighlightRules struct {
	PER           Threshold `json:"per" toml:"per"`
	PBR           Threshold `json:"pbr" toml:"pbr"`
	ROE           Threshold `json:"roe" toml:"roe"`
	DividendYield Threshold `json:"yield" toml:"yield"`
}

// DefaultHighlightRules returns the thresholds used when no rules file exists.
func DefaultHighlightRules() HighlightRules {
	return HighlightRules{
		PER:           Threshold{Undervalued: 15, Overvalued: float64Ptr(25)},
		PBR:           Threshold{Undervalued: 1.0, Overvalued: float64Ptr(2.0)},
		ROE:           Threshold{Undervalued: 10},
		DividendYield: Threshold{Undervalued: 3},
	}
}

// Validate checks that every threshold is finite and that the
// lower-is-better metrics keep undervalued at or below overvalued.
func (r HighlightRules) Validate() error {
	var errs []error
	check := func(name string, t Threshold, ordered bool) {
		if math.IsNaN(t.Undervalued) || math.IsInf(t.Undervalued, 0) {
			errs = append(errs, fmt.Errorf("%s.undervalued must be finite", name))
		}
		if t.Overvalued == nil {
			return
		}
		if math.IsNaN(*t.Overvalued) || math.IsInf(*t.Overvalued, 0) {
			errs = append(errs, fmt.Errorf("%s.overvalued must be finite", name))
			return
		}
		if ordered && t.Undervalued > *t.Overvalued {
			errs = append(errs, fmt.Errorf("%s.undervalued (%g) exceeds overvalued (%g)", name, t.Undervalued, *t.Overvalued))
		}
	}
	check("per", r.PER, true)
	check("pbr", r.PBR, true)
	check("roe", r.ROE, false)
	check("yield", r.DividendYield, false)
	return errors.Join(errs...)
}

func float64Ptr(v float64) *float64 {
	return &v
}
