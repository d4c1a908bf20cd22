// Package sqlite implements the durable bar archive: aggregated history
// bars committed in batched transactions, readable back for Stock history
// windows that outlive the Redis cache.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trade-assistv1/internal/marketdata/agg"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened bar archive at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	// Prices are stored as exact decimal strings.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol   TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     TEXT    NOT NULL,
			high     TEXT    NOT NULL,
			low      TEXT    NOT NULL,
			close    TEXT    NOT NULL,
			volume   INTEGER NOT NULL,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan agg.Bar) {
	batch := make([]agg.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of bars in a single transaction.
func (w *Writer) insertBatch(bars []agg.Bar) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		p := b.Point
		if _, err := stmt.Exec(
			b.Symbol, p.TS.Unix(),
			p.Open.String(), p.High.String(), p.Low.String(), p.Close.String(),
			p.Volume,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetLastTimestamp returns the newest bar timestamp stored for a symbol,
// or 0 when the symbol has no archived bars.
func (w *Writer) GetLastTimestamp(symbol string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(`SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
