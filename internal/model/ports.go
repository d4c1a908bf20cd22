package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// These interfaces keep the core models free of I/O. The market data
// provider, execution gateway, journal, and cache are external collaborators
// reached only through these narrow boundaries.

// HistoryRange selects a window of historical price points.
type HistoryRange struct {
	From time.Time
	To   time.Time
}

// QuoteProvider fetches quotes and history from the market data service.
// Failures surface as marketdata.NetworkError / marketdata.NotFoundError;
// the core never retries, it propagates the failure to its caller.
type QuoteProvider interface {
	// FetchQuote returns a Stock snapshot for the symbol's latest quote.
	FetchQuote(ctx context.Context, symbol string) (Stock, error)

	// FetchHistory returns price points ordered by increasing timestamp.
	FetchHistory(ctx context.Context, symbol string, r HistoryRange) ([]PricePoint, error)
}

// OrderJournal persists order lifecycle events for audit and recovery.
type OrderJournal interface {
	// RecordOrder persists the order's current snapshot (insert or update).
	RecordOrder(o Order) error

	// RecordFill persists one fill event for an order.
	RecordFill(orderID string, f Fill) error

	// LoadOpenOrders returns snapshots of all non-terminal orders.
	LoadOpenOrders() ([]Order, error)

	// Close releases underlying resources.
	Close() error
}

// QuoteCacheWriter stores latest quotes and history bars for fast reads.
type QuoteCacheWriter interface {
	// Run consumes quotes from quoteCh and writes them.
	// Blocks until ctx is cancelled or quoteCh is closed.
	Run(ctx context.Context, quoteCh <-chan Quote)

	// WriteBar stores one aggregated history bar for a symbol.
	WriteBar(ctx context.Context, symbol string, p PricePoint) error

	// Close releases underlying resources.
	Close() error
}

// QuoteCacheReader reads back cached quotes and bars.
type QuoteCacheReader interface {
	// LatestQuote returns the cached latest quote for a symbol.
	LatestQuote(ctx context.Context, symbol string) (Quote, error)

	// ReadBars returns cached bars for a symbol after the given unix second.
	ReadBars(ctx context.Context, symbol string, afterTS int64) ([]PricePoint, error)
}
