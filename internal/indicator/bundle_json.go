package indicator

import "encoding/json"

// bundleJSON mirrors Bundle with pointers so that an enabled indicator over an
// empty series still appears (as []) while disabled ones are omitted.
type bundleJSON struct {
	SMA20     *Series          `json:"sma20,omitempty"`
	SMA50     *Series          `json:"sma50,omitempty"`
	SMA200    *Series          `json:"sma200,omitempty"`
	EMA12     *Series          `json:"ema12,omitempty"`
	EMA26     *Series          `json:"ema26,omitempty"`
	RSI       *Series          `json:"rsi,omitempty"`
	MACD      *MACDResult      `json:"macd,omitempty"`
	Bollinger *BollingerResult `json:"bollinger,omitempty"`
}

func seriesPtr(s Series) *Series {
	if s == nil {
		return nil
	}
	return &s
}

func seriesVal(p *Series) Series {
	if p == nil {
		return nil
	}
	if *p == nil {
		return Series{}
	}
	return *p
}

// MarshalJSON encodes the bundle as an object keyed by indicator name.
func (b Bundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(bundleJSON{
		SMA20:     seriesPtr(b.SMA20),
		SMA50:     seriesPtr(b.SMA50),
		SMA200:    seriesPtr(b.SMA200),
		EMA12:     seriesPtr(b.EMA12),
		EMA26:     seriesPtr(b.EMA26),
		RSI:       seriesPtr(b.RSI),
		MACD:      b.MACD,
		Bollinger: b.Bollinger,
	})
}

// UnmarshalJSON decodes an object produced by MarshalJSON.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var aux bundleJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*b = Bundle{
		SMA20:     seriesVal(aux.SMA20),
		SMA50:     seriesVal(aux.SMA50),
		SMA200:    seriesVal(aux.SMA200),
		EMA12:     seriesVal(aux.EMA12),
		EMA26:     seriesVal(aux.EMA26),
		RSI:       seriesVal(aux.RSI),
		MACD:      aux.MACD,
		Bollinger: aux.Bollinger,
	}
	return nil
}
