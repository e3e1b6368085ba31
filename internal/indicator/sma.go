package indicator

// SMA calculates the Simple Moving Average of series over period samples.
// out[i] is missing for i < period-1; otherwise it is the mean of the
// trailing window series[i-period+1 .. i].
func SMA(series []float64, period int) (Series, error) {
	if period <= 0 {
		return nil, invalidPeriod("sma", period)
	}
	out := missingSeries(len(series))
	for i := period - 1; i < len(series); i++ {
		out[i] = windowMean(series, i, period)
	}
	return out, nil
}
