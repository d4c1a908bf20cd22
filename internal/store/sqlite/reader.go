package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"trade-assistv1/internal/model"
)

// Reader reads archived bars (read-only connection).
type Reader struct {
	db *sql.DB
}

// NewReader opens the bar archive read-only.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open ro: %w", err)
	}
	return &Reader{db: db}, nil
}

// ReadBars returns archived bars for a symbol after the given unix second,
// ordered by increasing timestamp.
func (r *Reader) ReadBars(symbol string, afterTS int64) ([]model.PricePoint, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, afterTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var (
			ts                     int64
			open, high, low, close string
			volume                 int64
		)
		if err := rows.Scan(&ts, &open, &high, &low, &close, &volume); err != nil {
			return nil, err
		}
		p, err := parsePoint(ts, open, high, low, close, volume)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func parsePoint(ts int64, open, high, low, close string, volume int64) (model.PricePoint, error) {
	var p model.PricePoint
	var err error
	if p.Open, err = decimal.NewFromString(open); err != nil {
		return p, fmt.Errorf("bar open: %w", err)
	}
	if p.High, err = decimal.NewFromString(high); err != nil {
		return p, fmt.Errorf("bar high: %w", err)
	}
	if p.Low, err = decimal.NewFromString(low); err != nil {
		return p, fmt.Errorf("bar low: %w", err)
	}
	if p.Close, err = decimal.NewFromString(close); err != nil {
		return p, fmt.Errorf("bar close: %w", err)
	}
	p.TS = time.Unix(ts, 0).UTC()
	p.Volume = volume
	return p, nil
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}
