package analytics

import "strings"

// Personality summarises the dominant tilt of each axis.
type Personality struct {
	Style         Style              `json:"style"`
	Cyclicality   Cyclicality        `json:"cyclicality"`
	LargeCapRatio float64            `json:"large_cap_ratio"`
	Concentration ConcentrationLevel `json:"concentration"`
	SafetyLevel   string             `json:"safety_level"`
	Label         string             `json:"label"`
}

const (
	safetyHigh = 70.0
	safetyLow  = 40.0
)

var styleLabels = map[Style]string{
	StyleValue:  "バリュー",
	StyleGrowth: "グロース",
	StyleBlend:  "ブレンド",
}

var cyclicalityLabels = map[Cyclicality]string{
	Defensive:        "ディフェンシブ",
	Cyclical:         "景気敏感",
	OtherCyclicality: "分散",
}

func derivePersonality(agg *Aggregate) Personality {
	p := Personality{
		Style:         Style(dominant(agg.StyleMix, string(StyleBlend))),
		Cyclicality:   Cyclicality(dominant(agg.CyclicalityMix, string(OtherCyclicality))),
		Concentration: agg.Concentration,
	}
	for _, e := range agg.CapMix {
		if e.Key == string(CapLarge) {
			p.LargeCapRatio = e.Ratio
		}
	}
	switch {
	case agg.SafetyScore >= safetyHigh:
		p.SafetyLevel = "high"
	case agg.SafetyScore >= safetyLow:
		p.SafetyLevel = "medium"
	default:
		p.SafetyLevel = "low"
	}

	parts := []string{styleLabels[p.Style], cyclicalityLabels[p.Cyclicality]}
	if p.Concentration == ConcentrationRisk {
		parts = append(parts, "集中")
	}
	p.Label = strings.Join(parts, "・") + "型"
	return p
}

// Entries are sorted by market value, so the first is the largest.
func dominant(entries []BreakdownEntry, fallback string) string {
	if len(entries) == 0 {
		return fallback
	}
	return entries[0].Key
}
