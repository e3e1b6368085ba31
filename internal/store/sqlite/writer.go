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

const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol  TEXT    NOT NULL,
			tf      INTEGER NOT NULL,
			ts      INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  REAL,
			PRIMARY KEY (symbol, tf, ts)
		);
	`)
	return err
}

// UpsertBars inserts or replaces bars in a single transaction and returns the
// number of rows written. Bars are keyed by (symbol, tf, ts).
func (w *Writer) UpsertBars(ctx context.Context, bars []model.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.TF, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite upsert %s: %w", b.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	log.Printf("[sqlite] committed %d bars in %v", len(bars), time.Since(start))
	return len(bars), nil
}

// LastTimestamp returns the newest stored bar time for a series.
// The zero time is returned if the series is empty.
func (w *Writer) LastTimestamp(ctx context.Context, symbol string, tf int) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE symbol = ? AND tf = ?`,
		symbol, tf,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
