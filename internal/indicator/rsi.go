package indicator

const (
	// DefaultRSIPeriod is the lookback used when none is configured.
	DefaultRSIPeriod = 14

	// RSIEpsilon replaces a zero average loss so RS stays finite.
	RSIEpsilon = 1e-4
)

// RSI calculates the Relative Strength Index.
//
// Average gain and loss are simple means over the trailing period price
// changes, recomputed at every step. This is not Wilder's smoothing and
// produces different values from the textbook RSI.
func RSI(series []float64, period int) (Series, error) {
	if period <= 0 {
		return nil, invalidPeriod("rsi", period)
	}
	n := len(series)
	out := missingSeries(n)
	if n < 2 {
		return out, nil
	}

	// gains[i-1] and losses[i-1] hold the change from series[i-1] to series[i].
	gains := make([]float64, n-1)
	losses := make([]float64, n-1)
	for i := 1; i < n; i++ {
		gains[i-1] = Lift2(series[i], series[i-1], func(cur, prev float64) float64 {
			if cur > prev {
				return cur - prev
			}
			return 0
		})
		losses[i-1] = Lift2(series[i], series[i-1], func(cur, prev float64) float64 {
			if cur < prev {
				return prev - cur
			}
			return 0
		})
	}

	for i := period; i < n; i++ {
		avgGain := windowMean(gains, i-1, period)
		avgLoss := windowMean(losses, i-1, period)
		out[i] = Lift2(avgGain, avgLoss, rsiValue)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		avgLoss = RSIEpsilon
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
