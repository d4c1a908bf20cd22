package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func marketBuy(t *testing.T, qty string) *Order {
	t.Helper()
	o, err := NewOrder("ACME", SideBuy, dec(qty), KindMarket, TIFDay, nil, nil)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	return o
}

func TestNewOrder_Defaults(t *testing.T) {
	o, err := NewOrder("acme", SideBuy, dec("10"), KindMarket, "", nil, nil)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if o.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", o.Status)
	}
	if o.Symbol != "ACME" {
		t.Errorf("expected symbol ACME, got %s", o.Symbol)
	}
	if o.TIF != TIFDay {
		t.Errorf("expected TIF default DAY, got %s", o.TIF)
	}
	if !o.FilledQty.IsZero() {
		t.Errorf("expected zero filled qty, got %s", o.FilledQty)
	}
	if o.AvgFillPrice != nil {
		t.Errorf("expected nil avg fill price before any fill")
	}
}

func TestNewOrder_Validation(t *testing.T) {
	lp := dec("101.50")
	zero := dec("0")
	cases := []struct {
		name        string
		symbol      string
		side        Side
		qty         decimal.Decimal
		kind        OrderKind
		tif         TimeInForce
		limit, stop *decimal.Decimal
	}{
		{"empty symbol", "", SideBuy, dec("1"), KindMarket, TIFDay, nil, nil},
		{"bad side", "ACME", Side("HOLD"), dec("1"), KindMarket, TIFDay, nil, nil},
		{"zero qty", "ACME", SideBuy, dec("0"), KindMarket, TIFDay, nil, nil},
		{"negative qty", "ACME", SideSell, dec("-1"), KindMarket, TIFDay, nil, nil},
		{"bad kind", "ACME", SideBuy, dec("1"), OrderKind("TRAILING"), TIFDay, nil, nil},
		{"bad tif", "ACME", SideBuy, dec("1"), KindMarket, TimeInForce("FOK"), nil, nil},
		{"limit without price", "ACME", SideBuy, dec("1"), KindLimit, TIFDay, nil, nil},
		{"limit with zero price", "ACME", SideBuy, dec("1"), KindLimit, TIFDay, &zero, nil},
		{"stop without price", "ACME", SideSell, dec("1"), KindStop, TIFDay, nil, nil},
		{"market with limit price", "ACME", SideBuy, dec("1"), KindMarket, TIFDay, &lp, nil},
		{"limit with stop price", "ACME", SideBuy, dec("1"), KindLimit, TIFDay, &lp, &lp},
	}
	for _, tc := range cases {
		_, err := NewOrder(tc.symbol, tc.side, tc.qty, tc.kind, tc.tif, tc.limit, tc.stop)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestOrder_FillLifecycle(t *testing.T) {
	o := marketBuy(t, "10")

	if err := o.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.Status != StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", o.Status)
	}

	t1 := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	if err := o.RecordFill(dec("6"), dec("101.5"), t1); err != nil {
		t.Fatalf("RecordFill #1: %v", err)
	}
	if o.Status != StatusPartial {
		t.Errorf("expected PARTIALLY_FILLED, got %s", o.Status)
	}
	if !o.FilledQty.Equal(dec("6")) {
		t.Errorf("expected filled=6, got %s", o.FilledQty)
	}
	if !o.Remaining().Equal(dec("4")) {
		t.Errorf("expected remaining=4, got %s", o.Remaining())
	}

	t2 := t1.Add(time.Second)
	if err := o.RecordFill(dec("4"), dec("102.0"), t2); err != nil {
		t.Fatalf("RecordFill #2: %v", err)
	}
	if o.Status != StatusFilled {
		t.Errorf("expected FILLED, got %s", o.Status)
	}
	if !o.FilledQty.Equal(dec("10")) {
		t.Errorf("expected filled=10, got %s", o.FilledQty)
	}
	// (6×101.5 + 4×102.0)/10 = 101.7
	if o.AvgFillPrice == nil || !o.AvgFillPrice.Equal(dec("101.7")) {
		t.Errorf("expected avg fill price 101.7, got %v", o.AvgFillPrice)
	}
	if len(o.Fills) != 2 {
		t.Errorf("expected 2 fills recorded, got %d", len(o.Fills))
	}
}

func TestOrder_OverfillAtomicity(t *testing.T) {
	o := marketBuy(t, "10")
	if err := o.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	t1 := time.Now().UTC()
	if err := o.RecordFill(dec("6"), dec("100"), t1); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}

	before := o.Snapshot()
	err := o.RecordFill(dec("5"), dec("100"), t1.Add(time.Second))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError on overfill, got %v", err)
	}
	// State unchanged
	if o.Status != before.Status || !o.FilledQty.Equal(before.FilledQty) || len(o.Fills) != len(before.Fills) {
		t.Errorf("overfill mutated order: status=%s filled=%s fills=%d", o.Status, o.FilledQty, len(o.Fills))
	}

	// Zero and negative fill quantities are also rejected
	for _, q := range []string{"0", "-1"} {
		if err := o.RecordFill(dec(q), dec("100"), t1); !errors.As(err, &verr) {
			t.Errorf("fill qty %s: expected ValidationError, got %v", q, err)
		}
	}
}

func TestOrder_InvalidTransitions(t *testing.T) {
	var iterr *InvalidTransitionError

	// Fill before submit
	o := marketBuy(t, "1")
	if err := o.RecordFill(dec("1"), dec("100"), time.Now()); !errors.As(err, &iterr) {
		t.Errorf("fill while PENDING: expected InvalidTransitionError, got %v", err)
	}

	// Double submit
	if err := o.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := o.Submit(); !errors.As(err, &iterr) {
		t.Errorf("double submit: expected InvalidTransitionError, got %v", err)
	}

	// Filled is terminal: no cancel, reject, submit or fill
	if err := o.RecordFill(dec("1"), dec("100"), time.Now()); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	filledSnap := o.Snapshot()
	if err := o.Cancel(); !errors.As(err, &iterr) {
		t.Errorf("cancel after fill: expected InvalidTransitionError, got %v", err)
	}
	if err := o.Reject("x"); !errors.As(err, &iterr) {
		t.Errorf("reject after fill: expected InvalidTransitionError, got %v", err)
	}
	if o.Status != StatusFilled || !o.FilledQty.Equal(filledSnap.FilledQty) {
		t.Errorf("terminal order mutated: %s filled=%s", o.Status, o.FilledQty)
	}
}

func TestOrder_CancelAndReject(t *testing.T) {
	// Cancel from PENDING
	o := marketBuy(t, "5")
	if err := o.Cancel(); err != nil {
		t.Fatalf("Cancel from PENDING: %v", err)
	}
	if o.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", o.Status)
	}

	// Cancel from PARTIALLY_FILLED keeps the filled quantity
	o = marketBuy(t, "5")
	o.Submit()
	o.RecordFill(dec("2"), dec("50"), time.Now().UTC())
	if err := o.Cancel(); err != nil {
		t.Fatalf("Cancel from PARTIALLY_FILLED: %v", err)
	}
	if !o.FilledQty.Equal(dec("2")) {
		t.Errorf("cancel lost filled qty: %s", o.FilledQty)
	}

	// Reject from SUBMITTED records the reason
	o = marketBuy(t, "5")
	o.Submit()
	if err := o.Reject("insufficient buying power"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if o.Status != StatusRejected || o.RejectReason != "insufficient buying power" {
		t.Errorf("expected REJECTED with reason, got %s %q", o.Status, o.RejectReason)
	}

	// Cancelled is terminal
	var iterr *InvalidTransitionError
	if err := o.Reject("again"); !errors.As(err, &iterr) {
		t.Errorf("reject after reject: expected InvalidTransitionError, got %v", err)
	}
}

func TestOrder_FractionalQty(t *testing.T) {
	o, err := NewOrder("ACME", SideBuy, dec("0.5"), KindMarket, TIFGTC, nil, nil)
	if err != nil {
		t.Fatalf("NewOrder fractional: %v", err)
	}
	o.Submit()
	if err := o.RecordFill(dec("0.5"), dec("200"), time.Now().UTC()); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if o.Status != StatusFilled {
		t.Errorf("expected FILLED, got %s", o.Status)
	}
}

func TestOrder_SnapshotIsCopy(t *testing.T) {
	lp := dec("99")
	o, err := NewOrder("ACME", SideSell, dec("3"), KindLimit, TIFDay, &lp, nil)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	snap := o.Snapshot()
	o.Submit()
	o.RecordFill(dec("1"), dec("99"), time.Now().UTC())

	if snap.Status != StatusPending || len(snap.Fills) != 0 {
		t.Errorf("snapshot shares state with order: %s fills=%d", snap.Status, len(snap.Fills))
	}
}
