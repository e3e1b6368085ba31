package indicator

// Summary is the latest read-out of the momentum indicators, as shown in the
// dashboard side panel. Zero-valued sections mean the indicator was not
// enabled or has not warmed up.
type Summary struct {
	RSI  *RSISummary  `json:"rsi,omitempty"`
	MACD *MACDSummary `json:"macd,omitempty"`
}

type RSISummary struct {
	Value     float64   `json:"value"`
	Formatted string    `json:"formatted"`
	Index     int       `json:"index"`
	Signal    RSISignal `json:"signal"`
}

type MACDSummary struct {
	MACD          float64    `json:"macd"`
	Signal        float64    `json:"signal"`
	Histogram     float64    `json:"histogram"`
	FormattedMACD string     `json:"formattedMacd"`
	FormattedSig  string     `json:"formattedSignal"`
	FormattedHist string     `json:"formattedHistogram"`
	Index         int        `json:"index"`
	Trend         MACDSignal `json:"trend"`
}

// Summarize reads the latest defined RSI and MACD values out of b.
func Summarize(b Bundle, cfg Config) Summary {
	var s Summary
	if v, i, ok := Last(b.RSI); ok {
		s.RSI = &RSISummary{
			Value:     v,
			Formatted: FormatValue(v),
			Index:     i,
			Signal:    ClassifyRSI(v, cfg.RSIOverbought, cfg.RSIOversold),
		}
	}
	if b.MACD != nil {
		// The histogram is defined exactly where both lines are.
		if h, i, ok := Last(b.MACD.Histogram); ok {
			m, sig := b.MACD.MACD[i], b.MACD.Signal[i]
			s.MACD = &MACDSummary{
				MACD:          m,
				Signal:        sig,
				Histogram:     h,
				FormattedMACD: FormatValue(m),
				FormattedSig:  FormatValue(sig),
				FormattedHist: FormatValue(h),
				Index:         i,
				Trend:         ClassifyMACD(m, sig),
			}
		}
	}
	return s
}
