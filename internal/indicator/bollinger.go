package indicator

import (
	"fmt"
	"math"
)

// Bollinger defaults.
const (
	DefaultBollingerPeriod = 20
	DefaultBollingerStdDev = 2.0
)

// BollingerResult holds the three bands, sharing the SMA warm-up window.
type BollingerResult struct {
	Upper  Series `json:"upper"`
	Middle Series `json:"middle"`
	Lower  Series `json:"lower"`
}

// Bollinger calculates Bollinger Bands: middle = SMA(period) and the bands sit
// stdDevs population standard deviations above and below it, measured over the
// same trailing window against middle[i].
func Bollinger(series []float64, period int, stdDevs float64) (BollingerResult, error) {
	if period <= 0 {
		return BollingerResult{}, invalidPeriod("bollinger", period)
	}
	if !(stdDevs > 0) || math.IsInf(stdDevs, 0) {
		return BollingerResult{}, fmt.Errorf("%w: bollinger std dev multiplier must be positive, got %v",
			ErrInvalidParameter, stdDevs)
	}

	middle, _ := SMA(series, period)
	n := len(series)
	upper := missingSeries(n)
	lower := missingSeries(n)

	for i := period - 1; i < n; i++ {
		mean := middle[i]
		if IsMissing(mean) {
			continue
		}
		sumSquares := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := series[j] - mean
			sumSquares += d * d
		}
		width := math.Sqrt(sumSquares/float64(period)) * stdDevs
		upper[i] = mean + width
		lower[i] = mean - width
	}

	return BollingerResult{Upper: upper, Middle: middle, Lower: lower}, nil
}
