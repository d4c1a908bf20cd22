package oms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trade-assistv1/internal/execution"
	"trade-assistv1/internal/model"
	"trade-assistv1/internal/portfolio"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// stubGateway records submissions and lets tests push fills.
type stubGateway struct {
	submitErr error
	submitted []model.Order
	cancelled []uuid.UUID
	fills     chan execution.FillEvent
}

func newStubGateway() *stubGateway {
	return &stubGateway{fills: make(chan execution.FillEvent, 16)}
}

func (g *stubGateway) SubmitOrder(_ context.Context, o model.Order) error {
	if g.submitErr != nil {
		return g.submitErr
	}
	g.submitted = append(g.submitted, o)
	return nil
}

func (g *stubGateway) CancelOrder(_ context.Context, id uuid.UUID) error {
	g.cancelled = append(g.cancelled, id)
	return nil
}

func (g *stubGateway) Fills() <-chan execution.FillEvent { return g.fills }

// memJournal is an in-memory model.OrderJournal.
type memJournal struct {
	orders map[uuid.UUID]model.Order
	fills  map[string][]model.Fill
}

func newMemJournal() *memJournal {
	return &memJournal{
		orders: make(map[uuid.UUID]model.Order),
		fills:  make(map[string][]model.Fill),
	}
}

func (j *memJournal) RecordOrder(o model.Order) error {
	j.orders[o.ID] = o
	return nil
}

func (j *memJournal) RecordFill(orderID string, f model.Fill) error {
	j.fills[orderID] = append(j.fills[orderID], f)
	return nil
}

func (j *memJournal) LoadOpenOrders() ([]model.Order, error) {
	var out []model.Order
	for _, o := range j.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (j *memJournal) Close() error { return nil }

func newTestManager(gw *stubGateway, j *memJournal) *Manager {
	return New(Config{}, gw, j, portfolio.New(), nil, nil, nil)
}

func marketBuy(qty string) PlaceRequest {
	return PlaceRequest{Symbol: "ACME", Side: model.SideBuy, Qty: dec(qty), Kind: model.KindMarket}
}

func TestPlace_SubmitsAndJournals(t *testing.T) {
	gw := newStubGateway()
	j := newMemJournal()
	m := newTestManager(gw, j)

	o, err := m.Place(context.Background(), marketBuy("10"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if o.Status != model.StatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", o.Status)
	}
	if len(gw.submitted) != 1 {
		t.Fatalf("gateway received %d orders, want 1", len(gw.submitted))
	}
	if got := j.orders[o.ID]; got.Status != model.StatusSubmitted {
		t.Errorf("journaled status = %s, want SUBMITTED", got.Status)
	}
}

func TestPlace_GatewayRefusalRejectsOrder(t *testing.T) {
	gw := newStubGateway()
	gw.submitErr = errors.New("no quote for symbol")
	j := newMemJournal()
	m := newTestManager(gw, j)

	o, err := m.Place(context.Background(), marketBuy("10"))
	if err != nil {
		t.Fatalf("gateway refusal should not fail the call: %v", err)
	}
	if o.Status != model.StatusRejected {
		t.Errorf("status = %s, want REJECTED", o.Status)
	}
	if o.RejectReason == "" {
		t.Error("reject reason should carry the venue error")
	}
}

func TestPlace_ValidationAndFractionalPolicy(t *testing.T) {
	m := newTestManager(newStubGateway(), newMemJournal())

	_, err := m.Place(context.Background(), PlaceRequest{Symbol: "ACME", Side: model.SideBuy, Qty: dec("1"), Kind: model.KindLimit})
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("limit without price: got %v, want ValidationError", err)
	}

	_, err = m.Place(context.Background(), marketBuy("2.5"))
	if !errors.As(err, &verr) || verr.Field != "qty" {
		t.Errorf("fractional qty with whole-share policy: got %v", err)
	}

	frac := New(Config{AllowFractional: true}, newStubGateway(), newMemJournal(), portfolio.New(), nil, nil, nil)
	if _, err := frac.Place(context.Background(), marketBuy("2.5")); err != nil {
		t.Errorf("fractional qty should pass when permitted: %v", err)
	}
}

func TestPlace_RiskRejection(t *testing.T) {
	pf := portfolio.New()
	rm := portfolio.NewRiskManager(portfolio.RiskLimits{
		MaxOrderQty:      dec("5"),
		MaxOrderNotional: dec("100000"),
		MaxDailyLoss:     dec("1000"),
		MaxOpenPositions: 10,
		MaxExposure:      dec("100000"),
	}, pf)
	m := New(Config{}, newStubGateway(), newMemJournal(), pf, rm, nil, nil)

	_, err := m.Place(context.Background(), marketBuy("10"))
	var verr *model.ValidationError
	if !errors.As(err, &verr) || verr.Field != "risk" {
		t.Errorf("oversized order: got %v, want risk ValidationError", err)
	}
}

func TestRun_AppliesFills(t *testing.T) {
	gw := newStubGateway()
	j := newMemJournal()
	pf := portfolio.New()
	m := New(Config{}, gw, j, pf, nil, nil, nil)

	o, err := m.Place(context.Background(), marketBuy("10"))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	now := time.Now()
	gw.fills <- execution.FillEvent{OrderID: o.ID, Qty: dec("6"), Price: dec("101.5"), TS: now}
	gw.fills <- execution.FillEvent{OrderID: o.ID, Qty: dec("4"), Price: dec("102"), TS: now.Add(time.Second)}

	deadline := time.After(2 * time.Second)
	for {
		got, err := m.Get(o.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == model.StatusFilled {
			if !got.FilledQty.Equal(dec("10")) {
				t.Errorf("filled qty = %s, want 10", got.FilledQty)
			}
			if got.AvgFillPrice == nil || !got.AvgFillPrice.Equal(dec("101.7")) {
				t.Errorf("avg fill price = %v, want 101.7", got.AvgFillPrice)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("order never filled, status = %s", got.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	pos, ok := pf.GetPosition("ACME")
	if !ok || !pos.Qty.Equal(dec("10")) {
		t.Errorf("position = %+v ok=%v, want 10 shares", pos, ok)
	}
	if got := len(j.fills[o.ID.String()]); got != 2 {
		t.Errorf("journaled fills = %d, want 2", got)
	}
}

func TestCancel(t *testing.T) {
	gw := newStubGateway()
	m := newTestManager(gw, newMemJournal())

	if _, err := m.Cancel(context.Background(), uuid.New()); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("cancel unknown: got %v, want ErrUnknownOrder", err)
	}

	o, _ := m.Place(context.Background(), marketBuy("10"))
	got, err := m.Cancel(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != model.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
	if len(gw.cancelled) != 1 || gw.cancelled[0] != o.ID {
		t.Errorf("gateway cancel calls = %v", gw.cancelled)
	}

	if _, err := m.Cancel(context.Background(), o.ID); err == nil {
		t.Error("cancelling a terminal order should fail")
	}
}

func TestExpireDayOrders(t *testing.T) {
	gw := newStubGateway()
	m := newTestManager(gw, newMemJournal())

	day, _ := m.Place(context.Background(), marketBuy("10"))
	gtc, _ := m.Place(context.Background(), PlaceRequest{
		Symbol: "ACME", Side: model.SideBuy, Qty: dec("5"), Kind: model.KindMarket, TIF: model.TIFGTC,
	})

	// Age both orders past the last session close.
	m.mu.Lock()
	old := time.Now().Add(-72 * time.Hour)
	m.orders[day.ID].CreatedAt = old
	m.orders[gtc.ID].CreatedAt = old
	m.mu.Unlock()

	if n := m.ExpireDayOrders(context.Background(), time.Now()); n != 1 {
		t.Fatalf("expired %d orders, want 1", n)
	}

	got, _ := m.Get(day.ID)
	if got.Status != model.StatusCancelled {
		t.Errorf("day order status = %s, want CANCELLED", got.Status)
	}
	kept, _ := m.Get(gtc.ID)
	if !kept.IsActive() {
		t.Errorf("GTC order status = %s, want active", kept.Status)
	}
}

func TestRestore(t *testing.T) {
	j := newMemJournal()
	first := New(Config{}, newStubGateway(), j, portfolio.New(), nil, nil, nil)
	o, _ := first.Place(context.Background(), marketBuy("10"))

	second := New(Config{}, newStubGateway(), j, portfolio.New(), nil, nil, nil)
	if err := second.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := second.Get(o.ID)
	if err != nil {
		t.Fatalf("restored order missing: %v", err)
	}
	if got.Status != model.StatusSubmitted {
		t.Errorf("restored status = %s, want SUBMITTED", got.Status)
	}
}
