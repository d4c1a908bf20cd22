// Package execution implements the trade execution boundary: the Gateway
// interface the order manager submits through, the paper-trading gateway,
// and the SQLite journal that records order lifecycle events.
package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trade-assistv1/internal/model"
)

// FillEvent is one execution notification from the venue.
type FillEvent struct {
	OrderID uuid.UUID       `json:"order_id"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	TS      time.Time       `json:"ts"`
}

// Gateway is the narrow boundary to the execution venue. Submission failures
// are returned synchronously; the order manager turns them into rejections.
// Fill notifications arrive asynchronously on the Fills channel.
type Gateway interface {
	// SubmitOrder hands a submitted order snapshot to the venue.
	SubmitOrder(ctx context.Context, o model.Order) error

	// CancelOrder withdraws a resting order from the venue. Cancelling an
	// order the venue no longer holds is not an error.
	CancelOrder(ctx context.Context, id uuid.UUID) error

	// Fills returns the stream of execution notifications.
	Fills() <-chan FillEvent
}
