package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"indicator-engine/internal/model"
)

var tsLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// readCSV parses bars from a CSV file with a header row. Column names are
// matched case-insensitively; ts (or time, timestamp, date) and close are
// required, open/high/low default to close and volume to 0. Timestamps are
// RFC 3339, "YYYY-MM-DD[ HH:MM[:SS]]" or unix seconds.
func readCSV(r io.Reader, symbol string, tf int) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case "time", "timestamp", "date", "datetime":
			name = "ts"
		}
		col[name] = i
	}
	tsCol, ok := col["ts"]
	if !ok {
		return nil, errors.New("csv: missing ts column")
	}
	closeCol, ok := col["close"]
	if !ok {
		return nil, errors.New("csv: missing close column")
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		ts, err := parseTS(rec[tsCol])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		c, err := parseNum(rec[closeCol])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: close: %w", line, err)
		}
		b := model.Bar{Symbol: symbol, TF: tf, TS: ts, Open: c, High: c, Low: c, Close: c}
		for name, dst := range map[string]*float64{"open": &b.Open, "high": &b.High, "low": &b.Low, "volume": &b.Volume} {
			i, ok := col[name]
			if !ok || i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				continue
			}
			if *dst, err = parseNum(rec[i]); err != nil {
				return nil, fmt.Errorf("csv line %d: %s: %w", line, name, err)
			}
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, errors.New("csv: no rows")
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].TS.Before(bars[i-1].TS) {
			return nil, fmt.Errorf("csv: rows must be in chronological order (row %d)", i+1)
		}
	}
	return bars, nil
}

func parseTS(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range tsLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func parseNum(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// memReader serves one in-memory series as a model.BarReader.
type memReader struct {
	bars []model.Bar
}

func (m memReader) ReadBars(_ context.Context, symbol string, tf int, limit int) ([]model.Bar, error) {
	if len(m.bars) == 0 || m.bars[0].Symbol != symbol || m.bars[0].TF != tf {
		return nil, fmt.Errorf("%s: %w", model.SeriesKey(symbol, tf), model.ErrNoBars)
	}
	if limit > 0 && limit < len(m.bars) {
		return m.bars[len(m.bars)-limit:], nil
	}
	return m.bars, nil
}

func (m memReader) Symbols(context.Context) ([]model.SeriesInfo, error) {
	if len(m.bars) == 0 {
		return nil, nil
	}
	return []model.SeriesInfo{{Symbol: m.bars[0].Symbol, TF: m.bars[0].TF, Bars: len(m.bars)}}, nil
}
