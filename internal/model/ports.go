package model

import (
	"context"
	"errors"
	"time"
)

// ErrNoBars is returned by a BarReader when a series has no stored bars.
var ErrNoBars = errors.New("no bars stored for series")

// ── Storage Port Interfaces ──
// These interfaces decouple the indicator service from concrete storage
// implementations (SQLite for bars, Redis for computed results).

// BarReader reads bar series for indicator computation.
type BarReader interface {
	// ReadBars returns at most limit of the most recent bars, oldest first.
	ReadBars(ctx context.Context, symbol string, tf int, limit int) ([]Bar, error)

	// Symbols lists the stored series.
	Symbols(ctx context.Context) ([]SeriesInfo, error)
}

// BarWriter stores bars.
type BarWriter interface {
	// UpsertBars inserts or replaces bars keyed by (symbol, tf, ts).
	UpsertBars(ctx context.Context, bars []Bar) (int, error)

	// LastTimestamp returns the newest stored bar time of a series, or the
	// zero time when it is empty.
	LastTimestamp(ctx context.Context, symbol string, tf int) (time.Time, error)
}

// SeriesInfo describes one stored bar series.
type SeriesInfo struct {
	Symbol string `json:"symbol"`
	TF     int    `json:"tf"`
	Bars   int    `json:"bars"`
}
