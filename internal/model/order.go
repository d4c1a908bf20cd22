package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind is the closed set of supported order kinds.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
	KindStop   OrderKind = "STOP"
)

// TimeInForce governs how long an order stays eligible for execution.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC" // good-till-cancel
	TIFIOC TimeInForce = "IOC" // immediate-or-cancel
)

// OrderStatus is the order lifecycle state. Transitions are monotonic in the
// partial order PENDING < SUBMITTED < PARTIALLY_FILLED < FILLED, with
// CANCELLED/REJECTED reachable from any non-terminal state.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusPartial   OrderStatus = "PARTIALLY_FILLED"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether no further transition is permitted from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Fill is one execution event satisfying part or all of an order.
type Fill struct {
	Qty   decimal.Decimal `json:"qty"`
	Price decimal.Decimal `json:"price"`
	TS    time.Time       `json:"ts"`
}

// Order is a trade instruction against a single instrument, referenced by
// symbol only. The Order itself is the sole authority for legal lifecycle
// transitions; callers must serialize mutating calls per instance (one
// authoritative owner), while Snapshot copies may be read freely.
type Order struct {
	ID           uuid.UUID        `json:"id"`
	Symbol       string           `json:"symbol"`
	Side         Side             `json:"side"`
	Qty          decimal.Decimal  `json:"qty"`
	Kind         OrderKind        `json:"kind"`
	TIF          TimeInForce      `json:"tif"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice    *decimal.Decimal `json:"stop_price,omitempty"`
	Status       OrderStatus      `json:"status"`
	FilledQty    decimal.Decimal  `json:"filled_qty"`
	AvgFillPrice *decimal.Decimal `json:"avg_fill_price,omitempty"` // set once any fill occurred
	RejectReason string           `json:"reject_reason,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Fills        []Fill           `json:"fills,omitempty"`
}

// NewOrder validates and creates an order in status PENDING.
// An empty tif defaults to DAY. limitPrice is required (and must be positive)
// iff kind is LIMIT, stopPrice iff kind is STOP; supplying a price the kind
// does not take is a validation error.
func NewOrder(symbol string, side Side, qty decimal.Decimal, kind OrderKind, tif TimeInForce, limitPrice, stopPrice *decimal.Decimal) (*Order, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if side != SideBuy && side != SideSell {
		return nil, &ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	if !qty.IsPositive() {
		return nil, &ValidationError{Field: "qty", Reason: "must be positive"}
	}
	if tif == "" {
		tif = TIFDay
	}
	if tif != TIFDay && tif != TIFGTC && tif != TIFIOC {
		return nil, &ValidationError{Field: "tif", Reason: "must be DAY, GTC or IOC"}
	}

	switch kind {
	case KindMarket:
		if limitPrice != nil {
			return nil, &ValidationError{Field: "limit_price", Reason: "not allowed for MARKET orders"}
		}
		if stopPrice != nil {
			return nil, &ValidationError{Field: "stop_price", Reason: "not allowed for MARKET orders"}
		}
	case KindLimit:
		if limitPrice == nil || !limitPrice.IsPositive() {
			return nil, &ValidationError{Field: "limit_price", Reason: "required and must be positive for LIMIT orders"}
		}
		if stopPrice != nil {
			return nil, &ValidationError{Field: "stop_price", Reason: "not allowed for LIMIT orders"}
		}
	case KindStop:
		if stopPrice == nil || !stopPrice.IsPositive() {
			return nil, &ValidationError{Field: "stop_price", Reason: "required and must be positive for STOP orders"}
		}
		if limitPrice != nil {
			return nil, &ValidationError{Field: "limit_price", Reason: "not allowed for STOP orders"}
		}
	default:
		return nil, &ValidationError{Field: "kind", Reason: "must be MARKET, LIMIT or STOP"}
	}

	now := time.Now().UTC()
	return &Order{
		ID:         uuid.New(),
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		Kind:       kind,
		TIF:        tif,
		LimitPrice: limitPrice,
		StopPrice:  stopPrice,
		Status:     StatusPending,
		FilledQty:  decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Submit transitions PENDING → SUBMITTED, marking the hand-off to the
// execution gateway.
func (o *Order) Submit() error {
	if o.Status != StatusPending {
		return &InvalidTransitionError{From: o.Status, Op: "submit"}
	}
	o.Status = StatusSubmitted
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordFill applies one execution event. The order moves to
// PARTIALLY_FILLED, or FILLED once the cumulative filled quantity equals the
// requested quantity. The average fill price is the quantity-weighted average
// over all fills. On any error the order is left unchanged.
func (o *Order) RecordFill(qty, price decimal.Decimal, ts time.Time) error {
	if o.Status.Terminal() || o.Status == StatusPending {
		return &InvalidTransitionError{From: o.Status, Op: "fill"}
	}
	if !qty.IsPositive() {
		return &ValidationError{Field: "fill_qty", Reason: "must be positive"}
	}
	if price.IsNegative() {
		return &ValidationError{Field: "fill_price", Reason: "must not be negative"}
	}
	if qty.GreaterThan(o.Remaining()) {
		return &ValidationError{Field: "fill_qty", Reason: "exceeds remaining quantity"}
	}

	// Weighted average: (avg*filled + price*qty) / (filled+qty)
	newFilled := o.FilledQty.Add(qty)
	notional := price.Mul(qty)
	if o.AvgFillPrice != nil {
		notional = notional.Add(o.AvgFillPrice.Mul(o.FilledQty))
	}
	avg := notional.Div(newFilled)

	o.FilledQty = newFilled
	o.AvgFillPrice = &avg
	o.Fills = append(o.Fills, Fill{Qty: qty, Price: price, TS: ts})
	if o.FilledQty.Equal(o.Qty) {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
	o.UpdatedAt = ts
	return nil
}

// Cancel transitions any non-terminal state to CANCELLED.
func (o *Order) Cancel() error {
	if o.Status.Terminal() {
		return &InvalidTransitionError{From: o.Status, Op: "cancel"}
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Reject transitions any non-terminal state to REJECTED, recording the
// gateway's reason.
func (o *Order) Reject(reason string) error {
	if o.Status.Terminal() {
		return &InvalidTransitionError{From: o.Status, Op: "reject"}
	}
	o.Status = StatusRejected
	o.RejectReason = reason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// IsTerminal reports whether the order accepts no further transitions.
func (o *Order) IsTerminal() bool {
	return o.Status.Terminal()
}

// IsActive reports whether the order is live at the gateway
// (submitted or partially filled).
func (o *Order) IsActive() bool {
	return o.Status == StatusSubmitted || o.Status == StatusPartial
}

// Snapshot returns a deep copy safe for concurrent readers.
func (o *Order) Snapshot() Order {
	cp := *o
	if o.LimitPrice != nil {
		lp := *o.LimitPrice
		cp.LimitPrice = &lp
	}
	if o.StopPrice != nil {
		sp := *o.StopPrice
		cp.StopPrice = &sp
	}
	if o.AvgFillPrice != nil {
		ap := *o.AvgFillPrice
		cp.AvgFillPrice = &ap
	}
	cp.Fills = make([]Fill, len(o.Fills))
	copy(cp.Fills, o.Fills)
	return cp
}
