package analytics

import "strconv"

// Score is the composite undervaluation score, 0..MaxScore or NotComputable.
type Score int

const (
	// NotComputable marks an asset with none of the scoring metrics.
	NotComputable Score = -1
	MaxScore      Score = 10

	// MinConsecutiveIncreaseYears earns the full dividend-streak points.
	MinConsecutiveIncreaseYears = 3
)

// Computable reports whether the score carries a value.
func (s Score) Computable() bool {
	return s != NotComputable
}

// MarshalJSON renders NotComputable as null so it never reads as zero.
func (s Score) MarshalJSON() ([]byte, error) {
	if s == NotComputable {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON reads null as NotComputable.
func (s *Score) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = NotComputable
		return nil
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	*s = Score(v)
	return nil
}

// Metrics are the scoring inputs of one asset.
type Metrics struct {
	PER                      Numeric
	PBR                      Numeric
	ROE                      Numeric
	DividendYield            Numeric
	ConsecutiveIncreaseYears Numeric
}

// ScoreBreakdown holds the 0..2 points of each metric.
type ScoreBreakdown struct {
	PER                 int `json:"per"`
	PBR                 int `json:"pbr"`
	ROE                 int `json:"roe"`
	DividendYield       int `json:"yield"`
	ConsecutiveIncrease int `json:"consecutive_increase"`
}

// Total sums the breakdown, capped at MaxScore.
func (b ScoreBreakdown) Total() Score {
	total := Score(b.PER + b.PBR + b.ROE + b.DividendYield + b.ConsecutiveIncrease)
	if total > MaxScore {
		return MaxScore
	}
	return total
}

// ScoredAsset is a snapshot with its score attached.
type ScoredAsset struct {
	AssetSnapshot
	Score          Score          `json:"score"`
	ScoreBreakdown ScoreBreakdown `json:"score_details"`
}

// ScoreAsset scores a snapshot against the highlight rules.
func ScoreAsset(snapshot AssetSnapshot, rules HighlightRules) ScoredAsset {
	score, breakdown := ScoreMetrics(snapshot.Metrics(), rules)
	return ScoredAsset{AssetSnapshot: snapshot, Score: score, ScoreBreakdown: breakdown}
}

// ScoreMetrics computes the total and per-metric points. The total is
// NotComputable only when all five metrics are unavailable.
func ScoreMetrics(m Metrics, rules HighlightRules) (Score, ScoreBreakdown) {
	breakdown := ScoreBreakdown{
		PER:                 lowerIsBetter(m.PER, rules.PER),
		PBR:                 lowerIsBetter(m.PBR, rules.PBR),
		ROE:                 higherIsBetter(m.ROE, rules.ROE),
		DividendYield:       higherIsBetter(m.DividendYield, rules.DividendYield),
		ConsecutiveIncrease: streakPoints(m.ConsecutiveIncreaseYears),
	}
	if !m.PER.ok && !m.PBR.ok && !m.ROE.ok && !m.DividendYield.ok && !m.ConsecutiveIncreaseYears.ok {
		return NotComputable, breakdown
	}
	return breakdown.Total(), breakdown
}

func lowerIsBetter(v Numeric, t Threshold) int {
	f, ok := v.Float()
	if !ok {
		return 0
	}
	if f <= t.Undervalued {
		return 2
	}
	if t.Overvalued != nil && f >= *t.Overvalued {
		return 0
	}
	return 1
}

// Higher-is-better metrics have no middle tier.
func higherIsBetter(v Numeric, t Threshold) int {
	f, ok := v.Float()
	if !ok || f < t.Undervalued {
		return 0
	}
	return 2
}

func streakPoints(v Numeric) int {
	years, ok := v.Float()
	switch {
	case !ok:
		return 0
	case years >= MinConsecutiveIncreaseYears:
		return 2
	case years >= 1:
		return 1
	}
	return 0
}
