package model

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Bar is one OHLCV observation for a symbol on a timeframe.
// Prices are floats as delivered by the market-data API.
type Bar struct {
	Symbol string    `json:"symbol"`
	TF     int       `json:"tf"`     // timeframe in seconds
	TS     time.Time `json:"ts"`     // bucket start time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Key returns "symbol:tf" (e.g. "AAPL:60").
func (b *Bar) Key() string {
	return SeriesKey(b.Symbol, b.TF)
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// Digest hashes the timestamps and OHLCV values of bars. Any revised or
// backfilled bar inside the slice changes the result.
func Digest(bars []Bar) uint64 {
	d := xxhash.New()
	var buf [48]byte
	for i := range bars {
		b := &bars[i]
		binary.LittleEndian.PutUint64(buf[0:], uint64(b.TS.UnixNano()))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(b.Open))
		binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(b.High))
		binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(b.Low))
		binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(b.Close))
		binary.LittleEndian.PutUint64(buf[40:], math.Float64bits(b.Volume))
		d.Write(buf[:])
	}
	return d.Sum64()
}

// SeriesKey identifies a bar series: "symbol:tf".
func SeriesKey(symbol string, tf int) string {
	return symbol + ":" + strconv.Itoa(tf)
}

// BarsUpdated is published whenever new bars are stored for a series.
type BarsUpdated struct {
	Symbol string    `json:"symbol"`
	TF     int       `json:"tf"`
	Count  int       `json:"count"`   // bars written in this batch
	LastTS time.Time `json:"last_ts"` // newest stored bar of the series after the write
}

// Channel returns the pub/sub channel for this series: "ind:bars:{symbol}:{tf}".
func (u *BarsUpdated) Channel() string {
	return BarsChannel(u.Symbol, u.TF)
}

// BarsChannel returns the pub/sub channel name for a series.
func BarsChannel(symbol string, tf int) string {
	return "ind:bars:" + symbol + ":" + strconv.Itoa(tf)
}
