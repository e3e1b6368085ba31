package indicator

import "fmt"

// MACD defaults.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// MACDResult holds the three MACD lines, each aligned with the input series.
type MACDResult struct {
	MACD      Series `json:"macd"`
	Signal    Series `json:"signal"`
	Histogram Series `json:"histogram"`
}

// MACD calculates Moving Average Convergence Divergence.
//
// The MACD line is fastEMA - slowEMA wherever both are defined. The signal
// line is an EMA over the defined MACD values only, so it is computed on the
// compacted series and then re-expanded into the original index space with
// AlignCompacted and masked wherever the MACD line is missing. The
// histogram is MACD - signal where both are defined.
func MACD(series []float64, fast, slow, signal int) (MACDResult, error) {
	switch {
	case fast <= 0:
		return MACDResult{}, invalidPeriod("macd fast", fast)
	case slow <= 0:
		return MACDResult{}, invalidPeriod("macd slow", slow)
	case signal <= 0:
		return MACDResult{}, invalidPeriod("macd signal", signal)
	case fast >= slow:
		return MACDResult{}, fmt.Errorf("%w: macd fast period (%d) must be shorter than slow period (%d)",
			ErrInvalidParameter, fast, slow)
	}

	n := len(series)
	fastEMA, _ := EMA(series, fast)
	slowEMA, _ := EMA(series, slow)

	line := make(Series, n)
	compacted := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		line[i] = Lift2(fastEMA[i], slowEMA[i], sub)
		if !IsMissing(line[i]) {
			compacted = append(compacted, line[i])
		}
	}

	compactSignal, _ := EMA(compacted, signal)
	signalLine := AlignCompacted(compactSignal, n, slow-1, signal-1)
	// With signal=1 the alignment lands a value at slow-1, where the line is
	// still warming up.
	for i := range signalLine {
		if IsMissing(line[i]) {
			signalLine[i] = Missing()
		}
	}

	hist := make(Series, n)
	for i := 0; i < n; i++ {
		hist[i] = Lift2(line[i], signalLine[i], sub)
	}

	return MACDResult{MACD: line, Signal: signalLine, Histogram: hist}, nil
}

// AlignCompacted re-expands a series computed over a compacted input back to
// the original index space of the given length.
//
// leadWarmup is the warm-up length of the series that was compacted (the
// MACD line's slow-1); ownWarmup is the warm-up of the computation run over
// the compacted values (the signal EMA's period-1). Original index i maps to
// compacted[i-leadWarmup]; every index before leadWarmup+ownWarmup, and every
// index past the end of compacted, is missing.
func AlignCompacted(compacted []float64, length, leadWarmup, ownWarmup int) Series {
	out := missingSeries(length)
	start := leadWarmup + ownWarmup
	if start < 0 {
		start = 0
	}
	for i := start; i < length; i++ {
		k := i - leadWarmup
		if k < 0 || k >= len(compacted) {
			continue
		}
		out[i] = compacted[k]
	}
	return out
}
