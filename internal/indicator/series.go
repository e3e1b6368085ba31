package indicator

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"indicator-engine/internal/model"
)

// Series is an indicator output aligned index-for-index with its input.
type Series []float64

// Missing returns the warm-up sentinel.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is the warm-up sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Lift2 applies f to a and b, propagating the sentinel if either is missing.
func Lift2(a, b float64, f func(a, b float64) float64) float64 {
	if IsMissing(a) || IsMissing(b) {
		return Missing()
	}
	return f(a, b)
}

func sub(a, b float64) float64 { return a - b }

// missingSeries returns a Series of n sentinels.
func missingSeries(n int) Series {
	out := make(Series, n)
	for i := range out {
		out[i] = Missing()
	}
	return out
}

// windowMean returns the mean of xs[end-period+1 .. end].
// A missing sample anywhere in the window makes the result missing.
func windowMean(xs []float64, end, period int) float64 {
	sum := 0.0
	for j := end - period + 1; j <= end; j++ {
		sum += xs[j]
	}
	return sum / float64(period)
}

// Closes extracts the closing-price series from bars.
func Closes(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// Last returns the most recent defined value of s and its index.
func Last(s Series) (value float64, index int, ok bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !IsMissing(s[i]) {
			return s[i], i, true
		}
	}
	return Missing(), -1, false
}

// MarshalJSON encodes missing samples as null.
func (s Series) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	buf := make([]byte, 0, 2+len(s)*10)
	buf = append(buf, '[')
	for i, v := range s {
		if i > 0 {
			buf = append(buf, ',')
		}
		if IsMissing(v) || math.IsInf(v, 0) {
			buf = append(buf, "null"...)
			continue
		}
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
	}
	buf = append(buf, ']')
	return buf, nil
}

// UnmarshalJSON decodes null samples as missing.
func (s *Series) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Series, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = Missing()
			continue
		}
		out[i] = *p
	}
	*s = out
	return nil
}
