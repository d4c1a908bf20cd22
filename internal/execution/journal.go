package execution

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"trade-assistv1/internal/model"
)

// Journal persists orders and fills to SQLite for audit and recovery.
// Satisfies model.OrderJournal.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id             TEXT PRIMARY KEY,
		symbol         TEXT NOT NULL,
		side           TEXT NOT NULL,
		qty            TEXT NOT NULL,
		kind           TEXT NOT NULL,
		tif            TEXT NOT NULL,
		limit_price    TEXT,
		stop_price     TEXT,
		status         TEXT NOT NULL,
		filled_qty     TEXT NOT NULL,
		avg_fill_price TEXT,
		reject_reason  TEXT,
		created_at     DATETIME NOT NULL,
		updated_at     DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS fills (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id   TEXT NOT NULL,
		qty        TEXT NOT NULL,
		price      TEXT NOT NULL,
		filled_at  DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	log.Printf("[journal] opened order journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordOrder persists the order's current snapshot (insert or update).
func (j *Journal) RecordOrder(o model.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO orders (id, symbol, side, qty, kind, tif, limit_price, stop_price,
		                     status, filled_qty, avg_fill_price, reject_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   filled_qty = excluded.filled_qty,
		   avg_fill_price = excluded.avg_fill_price,
		   reject_reason = excluded.reject_reason,
		   updated_at = excluded.updated_at`,
		o.ID.String(),
		o.Symbol,
		string(o.Side),
		o.Qty.String(),
		string(o.Kind),
		string(o.TIF),
		decimalPtr(o.LimitPrice),
		decimalPtr(o.StopPrice),
		string(o.Status),
		o.FilledQty.String(),
		decimalPtr(o.AvgFillPrice),
		o.RejectReason,
		o.CreatedAt.Format(time.RFC3339Nano),
		o.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// RecordFill persists one fill event for an order.
func (j *Journal) RecordFill(orderID string, f model.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO fills (order_id, qty, price, filled_at) VALUES (?, ?, ?, ?)`,
		orderID,
		f.Qty.String(),
		f.Price.String(),
		f.TS.Format(time.RFC3339Nano),
	)
	return err
}

// LoadOpenOrders returns snapshots of all non-terminal orders, oldest first.
// Fill histories are not rehydrated; cumulative quantities and averages are.
func (j *Journal) LoadOpenOrders() ([]model.Order, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, symbol, side, qty, kind, tif, limit_price, stop_price,
		        status, filled_qty, avg_fill_price, reject_reason, created_at, updated_at
		 FROM orders
		 WHERE status NOT IN ('FILLED', 'CANCELLED', 'REJECTED')
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			log.Printf("[journal] skipping unreadable order row: %v", err)
			continue
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(rows *sql.Rows) (model.Order, error) {
	var (
		o                      model.Order
		id, side, kind, tif    string
		qty, filledQty, status string
		limitP, stopP, avgP    sql.NullString
		reason                 sql.NullString
		createdAt, updatedAt   string
	)
	if err := rows.Scan(&id, &o.Symbol, &side, &qty, &kind, &tif, &limitP, &stopP,
		&status, &filledQty, &avgP, &reason, &createdAt, &updatedAt); err != nil {
		return model.Order{}, err
	}

	var err error
	if o.ID, err = uuid.Parse(id); err != nil {
		return model.Order{}, fmt.Errorf("bad order id %q: %w", id, err)
	}
	o.Side = model.Side(side)
	o.Kind = model.OrderKind(kind)
	o.TIF = model.TimeInForce(tif)
	o.Status = model.OrderStatus(status)
	o.RejectReason = reason.String
	if o.Qty, err = decimal.NewFromString(qty); err != nil {
		return model.Order{}, fmt.Errorf("bad qty %q: %w", qty, err)
	}
	if o.FilledQty, err = decimal.NewFromString(filledQty); err != nil {
		return model.Order{}, fmt.Errorf("bad filled_qty %q: %w", filledQty, err)
	}
	if o.LimitPrice, err = parseDecimalPtr(limitP); err != nil {
		return model.Order{}, err
	}
	if o.StopPrice, err = parseDecimalPtr(stopP); err != nil {
		return model.Order{}, err
	}
	if o.AvgFillPrice, err = parseDecimalPtr(avgP); err != nil {
		return model.Order{}, err
	}
	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.Order{}, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if o.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return model.Order{}, fmt.Errorf("bad updated_at %q: %w", updatedAt, err)
	}
	return o, nil
}

func decimalPtr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDecimalPtr(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("bad decimal %q: %w", s.String, err)
	}
	return &d, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
