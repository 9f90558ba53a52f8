package analytics

import (
	"encoding/json"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Numeric
	}{
		{"percent with separator", "1,234.5%", Value(1234.5)},
		{"multiplier suffix", "12.3倍", Value(12.3)},
		{"yen suffix", "2,500円", Value(2500)},
		{"million yen suffix is not rescaled", "1,234百万円", Value(1234)},
		{"full-width percent", "3.5％", Value(3.5)},
		{"signed change", "+12.5", Value(12.5)},
		{"unicode minus", "−3.2", Value(-3.2)},
		{"dollar prefix", "$185.20", Value(185.2)},
		{"parenthesized", "(12.3)", Value(12.3)},
		{"parenthesized percent", "(+1.5%)", Value(1.5)},
		{"full-width parentheses", "（2.8倍）", Value(2.8)},
		{"empty parentheses", "()", Unavailable},
		{"float", 1.5, Value(1.5)},
		{"int", 42, Value(42)},
		{"json number", json.Number("7.25"), Value(7.25)},
		{"NA token", "N/A", Unavailable},
		{"dash token", "---", Unavailable},
		{"empty", "", Unavailable},
		{"whitespace", "   ", Unavailable},
		{"garbage", "abc", Unavailable},
		{"NaN float", math.NaN(), Unavailable},
		{"infinite float", math.Inf(1), Unavailable},
		{"Inf string", "Inf", Unavailable},
		{"nil", nil, Unavailable},
		{"unit only", "倍", Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []any{"1,234.5%", "N/A", "", 3.0, "12倍", "-", nil, "0", json.Number("1e3")}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %v", in)
		assert.Equal(t, once, Normalize(&once), "pointer input %v", in)
	}
}

func TestNumericJSON(t *testing.T) {
	type row struct {
		PER Numeric `json:"per"`
		PBR Numeric `json:"pbr"`
	}
	data, err := json.Marshal(row{PER: Value(12.5), PBR: Unavailable})
	require.NoError(t, err)
	assert.JSONEq(t, `{"per":12.5,"pbr":null}`, string(data))

	var decoded row
	require.NoError(t, json.Unmarshal([]byte(`{"per":"15.2倍","pbr":null}`), &decoded))
	assert.Equal(t, Value(15.2), decoded.PER)
	assert.False(t, decoded.PBR.Available())
}

func TestCompareSortsUnavailableLast(t *testing.T) {
	values := []Numeric{Unavailable, Value(3), Value(1), Unavailable, Value(2)}

	asc := append([]Numeric(nil), values...)
	sort.SliceStable(asc, func(i, j int) bool { return Compare(asc[i], asc[j], Ascending) < 0 })
	assert.Equal(t, []Numeric{Value(1), Value(2), Value(3), Unavailable, Unavailable}, asc)

	desc := append([]Numeric(nil), values...)
	sort.SliceStable(desc, func(i, j int) bool { return Compare(desc[i], desc[j], Descending) < 0 })
	assert.Equal(t, []Numeric{Value(3), Value(2), Value(1), Unavailable, Unavailable}, desc)
}

func TestNumericAccessors(t *testing.T) {
	f, ok := Value(2.346).Round(2).Float()
	assert.True(t, ok)
	assert.InDelta(t, 2.35, f, 1e-9)
	assert.Equal(t, 0.0, Unavailable.OrZero())
	assert.Equal(t, "N/A", Unavailable.String())
	assert.Equal(t, "1.5", Value(1.5).String())
}
