package indicator

import (
	"math"
	"strconv"
)

// RSISignal classifies an RSI reading.
type RSISignal string

const (
	RSIOverbought RSISignal = "overbought"
	RSIOversold   RSISignal = "oversold"
	RSINeutral    RSISignal = "neutral"
)

// MACDSignal classifies the MACD line against its signal line.
type MACDSignal string

const (
	MACDBullish MACDSignal = "bullish"
	MACDBearish MACDSignal = "bearish"
	MACDNeutral MACDSignal = "neutral"
)

// ClassifyRSI maps an RSI value onto overbought/oversold/neutral.
// A missing value is neutral.
func ClassifyRSI(v, overbought, oversold float64) RSISignal {
	switch {
	case IsMissing(v):
		return RSINeutral
	case v >= overbought:
		return RSIOverbought
	case v <= oversold:
		return RSIOversold
	}
	return RSINeutral
}

// ClassifyMACD compares a MACD value with its signal value. If either is
// missing the result is neutral.
func ClassifyMACD(macd, signal float64) MACDSignal {
	switch {
	case IsMissing(macd) || IsMissing(signal):
		return MACDNeutral
	case macd > signal:
		return MACDBullish
	case macd < signal:
		return MACDBearish
	}
	return MACDNeutral
}

// FormatValue renders v with a precision that shrinks as magnitude grows:
// 0 decimals from 1000, 1 from 100, 2 from 10, else 3. Missing renders "--".
func FormatValue(v float64) string {
	if IsMissing(v) {
		return "--"
	}
	abs := math.Abs(v)
	prec := 3
	switch {
	case abs >= 1000:
		prec = 0
	case abs >= 100:
		prec = 1
	case abs >= 10:
		prec = 2
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}
