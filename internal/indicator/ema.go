package indicator

// EMA calculates the SMA-seeded Exponential Moving Average.
//
// The seeding is deliberate and must not be "fixed":
//   - out[0] is series[0]
//   - out[1 .. period-1] are missing
//   - out[period] is the mean of series[1 .. period] (same window as SMA)
//   - afterwards out[i] = (series[i]-out[i-1])*k + out[i-1], k = 2/(period+1)
func EMA(series []float64, period int) (Series, error) {
	if period <= 0 {
		return nil, invalidPeriod("ema", period)
	}
	n := len(series)
	out := make(Series, n)
	if n == 0 {
		return out, nil
	}

	k := 2.0 / float64(period+1)
	step := func(price, prev float64) float64 { return (price-prev)*k + prev }

	out[0] = series[0]
	for i := 1; i < n; i++ {
		switch {
		case i < period:
			out[i] = Missing()
		case i == period:
			out[i] = windowMean(series, i, period)
		default:
			out[i] = Lift2(series[i], out[i-1], step)
		}
	}
	return out, nil
}
