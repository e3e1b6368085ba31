package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"indicator-engine/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoBars is returned when a series has no stored bars.
var ErrNoBars = model.ErrNoBars

// Reader provides read access to the bar store.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created if
// the file is new so that reads on an empty store report ErrNoBars.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars returns the most recent limit bars of a series, ordered by
// timestamp ascending. limit <= 0 reads the whole series.
func (r *Reader) ReadBars(ctx context.Context, symbol string, tf int, limit int) ([]model.Bar, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, tf, ts, open, high, low, close, volume FROM (
			SELECT symbol, tf, ts, open, high, low, close, volume
			FROM bars
			WHERE symbol = ? AND tf = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, tf, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		var volume sql.NullFloat64
		if err := rows.Scan(&b.Symbol, &b.TF, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		b.Volume = volume.Float64
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", model.SeriesKey(symbol, tf), ErrNoBars)
	}
	return bars, nil
}

// Symbols lists every stored series with its bar count.
func (r *Reader) Symbols(ctx context.Context) ([]model.SeriesInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, tf, COUNT(*) FROM bars
		GROUP BY symbol, tf
		ORDER BY symbol, tf
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	out := []model.SeriesInfo{}
	for rows.Next() {
		var s model.SeriesInfo
		if err := rows.Scan(&s.Symbol, &s.TF, &s.Bars); err != nil {
			return nil, fmt.Errorf("sqlite scan symbols: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// Ping checks the connection.
func (r *Reader) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
