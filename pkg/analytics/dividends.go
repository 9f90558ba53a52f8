package analytics

import (
	"sort"
	"strings"
)

// ConsecutiveIncreaseYears counts how many years in a row the per-share
// dividend grew, walking back from the latest year. The walk stops at the
// first flat or lower year, or at a year with no usable amount. An empty
// history is Unavailable.
func ConsecutiveIncreaseYears(history map[string]Numeric) Numeric {
	if len(history) == 0 {
		return Unavailable
	}
	years := make([]string, 0, len(history))
	for year := range history {
		years = append(years, year)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(years)))

	count := 0
	for i := 0; i+1 < len(years); i++ {
		current, ok := history[years[i]].Float()
		if !ok {
			break
		}
		previous, ok := history[years[i+1]].Float()
		if !ok || current <= previous {
			break
		}
		count++
	}
	return Value(float64(count))
}

// NormalizeDividendHistory converts raw year to amount pairs.
func NormalizeDividendHistory(raw map[string]any) map[string]Numeric {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]Numeric, len(raw))
	for year, v := range raw {
		out[strings.TrimSpace(year)] = Normalize(v)
	}
	return out
}
