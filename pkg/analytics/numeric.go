// Package analytics derives scores, valuations and portfolio statistics from
// normalized market data. Every function in this package is pure.
package analytics

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Numeric is either a finite number or the explicit Unavailable marker.
// The zero value is Unavailable.
type Numeric struct {
	value float64
	ok    bool
}

// Unavailable is the marker for a metric with no usable value.
var Unavailable = Numeric{}

// Value wraps a float. NaN and infinities become Unavailable.
func Value(f float64) Numeric {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Unavailable
	}
	return Numeric{value: f, ok: true}
}

// Available reports whether n carries a number.
func (n Numeric) Available() bool {
	return n.ok
}

// Float returns the number and whether it is available.
func (n Numeric) Float() (float64, bool) {
	return n.value, n.ok
}

// OrZero returns the number, or 0 when unavailable. Only for display sums.
func (n Numeric) OrZero() float64 {
	if !n.ok {
		return 0
	}
	return n.value
}

// Round returns n rounded to the given number of decimal places.
func (n Numeric) Round(places int) Numeric {
	if !n.ok {
		return n
	}
	return Value(round(n.value, places))
}

func (n Numeric) String() string {
	if !n.ok {
		return "N/A"
	}
	return strconv.FormatFloat(n.value, 'f', -1, 64)
}

// MarshalJSON renders Unavailable as null.
func (n Numeric) MarshalJSON() ([]byte, error) {
	if !n.ok {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(n.value, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts null, numbers and raw strings, normalizing them.
func (n *Numeric) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*n = Normalize(raw)
	return nil
}

var unavailableTokens = map[string]bool{}

func init() {
	for _, tok := range []string{"", "N/A", "NA", "n/a", "-", "--", "---", "－", "―", "—", "null"} {
		unavailableTokens[tok] = true
	}
}

// Longer suffixes first so "百万円" is removed before "円".
var unitSuffixes = []string{"百万円", "億円", "千円", "円", "ドル", "倍", "%", "％", "株", "口"}

var unitPrefixes = []string{"$", "¥", "￥", "+", "＋"}

// Normalize converts a raw field value into a Numeric. It accepts numbers,
// strings with thousands separators and unit suffixes, sentinel tokens and
// Numeric values. Unit suffixes are stripped without rescaling.
func Normalize(raw any) Numeric {
	switch v := raw.(type) {
	case nil:
		return Unavailable
	case Numeric:
		return v
	case *Numeric:
		if v == nil {
			return Unavailable
		}
		return *v
	case float64:
		return Value(v)
	case float32:
		return Value(float64(v))
	case int:
		return Value(float64(v))
	case int32:
		return Value(float64(v))
	case int64:
		return Value(float64(v))
	case uint:
		return Value(float64(v))
	case uint32:
		return Value(float64(v))
	case uint64:
		return Value(float64(v))
	case json.Number:
		return NormalizeString(v.String())
	case string:
		return NormalizeString(v)
	case *string:
		if v == nil {
			return Unavailable
		}
		return NormalizeString(*v)
	case *float64:
		if v == nil {
			return Unavailable
		}
		return Value(*v)
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Unavailable
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Float32, reflect.Float64:
		return Value(rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Value(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Value(float64(rv.Uint()))
	case reflect.String:
		return NormalizeString(rv.String())
	}
	return Unavailable
}

// NormalizeString parses a display string such as "1,234.5%" or "12.3倍".
func NormalizeString(s string) Numeric {
	s = strings.TrimSpace(s)
	if unavailableTokens[s] {
		return Unavailable
	}
	s = strings.NewReplacer(",", "", "，", "", " ", "", "　", "", "−", "-").Replace(s)
	s = trimParens(s)
	for _, suffix := range unitSuffixes {
		s = strings.TrimSuffix(s, suffix)
	}
	for _, prefix := range unitPrefixes {
		s = strings.TrimPrefix(s, prefix)
	}
	s = trimParens(s)
	if s == "" {
		return Unavailable
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Unavailable
	}
	return Value(f)
}

// trimParens drops one pair of surrounding half- or full-width parentheses.
func trimParens(s string) string {
	for _, p := range [][2]string{{"(", ")"}, {"（", "）"}} {
		if strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) {
			return s[len(p[0]) : len(s)-len(p[1])]
		}
	}
	return s
}

// SortDirection selects ascending or descending order in Compare.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

// Compare orders two metrics in the given direction. Unavailable values
// always sort after available ones, whatever the direction.
func Compare(a, b Numeric, dir SortDirection) int {
	switch {
	case !a.ok && !b.ok:
		return 0
	case !a.ok:
		return 1
	case !b.ok:
		return -1
	}
	c := 0
	if a.value < b.value {
		c = -1
	} else if a.value > b.value {
		c = 1
	}
	if dir == Descending {
		return -c
	}
	return c
}

func round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
