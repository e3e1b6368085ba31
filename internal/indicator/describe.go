package indicator

// Description is the human-readable help text for an indicator.
type Description struct {
	Name           Name   `json:"name"`
	Label          string `json:"label"`
	FullName       string `json:"fullName"`
	Description    string `json:"description"`
	Interpretation string `json:"interpretation"`
	Color          string `json:"color,omitempty"`
}

var descriptions = []Description{
	{
		Name:           NameSMA20,
		Label:          "SMA 20",
		FullName:       "Simple Moving Average (20 periods)",
		Description:    "The average closing price over the last 20 periods. Shows medium-term trend direction.",
		Interpretation: "Price above SMA 20 suggests bullish momentum. Price below suggests bearish momentum.",
		Color:          "#3b82f6",
	},
	{
		Name:           NameSMA50,
		Label:          "SMA 50",
		FullName:       "Simple Moving Average (50 periods)",
		Description:    "The average closing price over the last 50 periods. Used to identify medium-term trend.",
		Interpretation: "When price crosses above SMA 50, it may indicate a trend reversal to bullish.",
		Color:          "#22c55e",
	},
	{
		Name:           NameSMA200,
		Label:          "SMA 200",
		FullName:       "Simple Moving Average (200 periods)",
		Description:    "The average closing price over the last 200 periods. A key long-term trend indicator.",
		Interpretation: "Price above SMA 200 is in a long-term bullish trend.",
		Color:          "#f59e0b",
	},
	{
		Name:           NameEMA12,
		Label:          "EMA 12",
		FullName:       "Exponential Moving Average (12 periods)",
		Description:    "A weighted moving average that gives more importance to recent prices.",
		Interpretation: "Reacts quicker to price movements than SMA, useful for short-term signals.",
		Color:          "#8b5cf6",
	},
	{
		Name:           NameEMA26,
		Label:          "EMA 26",
		FullName:       "Exponential Moving Average (26 periods)",
		Description:    "A weighted moving average over 26 periods, commonly used in MACD.",
		Interpretation: "Compare with EMA 12 to identify momentum shifts.",
		Color:          "#ec4899",
	},
	{
		Name:           NameRSI,
		Label:          "RSI",
		FullName:       "Relative Strength Index",
		Description:    "Momentum oscillator measuring the speed and change of price movements. Scale: 0-100.",
		Interpretation: "Above 70 is overbought (potential sell). Below 30 is oversold (potential buy).",
	},
	{
		Name:           NameMACD,
		Label:          "MACD",
		FullName:       "Moving Average Convergence Divergence",
		Description:    "Relationship between two EMAs: MACD line, signal line and histogram.",
		Interpretation: "MACD above signal is bullish, below is bearish. The histogram shows momentum strength.",
	},
	{
		Name:           NameBollinger,
		Label:          "Bollinger Bands",
		FullName:       "Bollinger Bands",
		Description:    "Middle band (SMA) with upper and lower bands at a multiple of the standard deviation. Measures volatility.",
		Interpretation: "Price near the upper band is potentially overbought, near the lower band potentially oversold.",
	},
}

// Descriptions returns help text for every indicator, in display order.
// The slice is a copy.
func Descriptions() []Description {
	out := make([]Description, len(descriptions))
	copy(out, descriptions)
	return out
}

// Describe returns the help text for a single indicator.
func Describe(name Name) (Description, bool) {
	for _, d := range descriptions {
		if d.Name == name {
			return d, true
		}
	}
	return Description{}, false
}
