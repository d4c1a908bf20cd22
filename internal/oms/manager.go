// Package oms implements the order management service: the single
// authoritative owner of every order's lifecycle. All mutations — placement,
// cancellation, fills arriving from the execution gateway, day-order
// expiry — go through the Manager, which serializes them, journals every
// transition, and keeps the portfolio in sync.
package oms

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trade-assistv1/internal/execution"
	"trade-assistv1/internal/markethours"
	"trade-assistv1/internal/metrics"
	"trade-assistv1/internal/model"
	"trade-assistv1/internal/notification"
	"trade-assistv1/internal/portfolio"
)

// ErrUnknownOrder is returned for an order ID the manager does not own.
var ErrUnknownOrder = errors.New("oms: unknown order id")

// Config holds order management policy.
type Config struct {
	// AllowFractional permits non-integer order quantities.
	AllowFractional bool
}

// PlaceRequest carries the caller's order parameters.
type PlaceRequest struct {
	Symbol     string
	Side       model.Side
	Qty        decimal.Decimal
	Kind       model.OrderKind
	TIF        model.TimeInForce
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
}

// Manager owns all orders. Mutating calls are serialized under one lock;
// reads hand out snapshots.
type Manager struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*model.Order

	cfg      Config
	gateway  execution.Gateway
	journal  model.OrderJournal
	pf       *portfolio.Portfolio
	pnl      *portfolio.PnLTracker
	risk     *portfolio.RiskManager
	notifier notification.Notifier
	prom     *metrics.Metrics

	// OnUpdate, when set, receives a snapshot after every state change
	// (submission, rejection, fill, cancellation, expiry).
	OnUpdate func(model.Order)
}

// New creates a Manager. risk, notifier, and prom may be nil; journal and
// gateway must not be.
func New(cfg Config, gw execution.Gateway, journal model.OrderJournal, pf *portfolio.Portfolio, risk *portfolio.RiskManager, notifier notification.Notifier, prom *metrics.Metrics) *Manager {
	return &Manager{
		orders:   make(map[uuid.UUID]*model.Order),
		cfg:      cfg,
		gateway:  gw,
		journal:  journal,
		pf:       pf,
		pnl:      portfolio.NewPnLTracker(),
		risk:     risk,
		notifier: notifier,
		prom:     prom,
	}
}

// Restore reloads non-terminal orders from the journal after a restart.
func (m *Manager) Restore() error {
	open, err := m.journal.LoadOpenOrders()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range open {
		o := open[i]
		m.orders[o.ID] = &o
	}
	if len(open) > 0 {
		log.Printf("[oms] restored %d open orders from journal", len(open))
	}
	m.updateOpenGauge()
	return nil
}

// Place validates, journals, and submits a new order. A gateway refusal does
// not fail the call: the order transitions to REJECTED and is returned with
// a nil error so the caller can inspect the reject reason.
func (m *Manager) Place(ctx context.Context, req PlaceRequest) (model.Order, error) {
	o, err := model.NewOrder(req.Symbol, req.Side, req.Qty, req.Kind, req.TIF, req.LimitPrice, req.StopPrice)
	if err != nil {
		return model.Order{}, err
	}
	if !m.cfg.AllowFractional && !req.Qty.IsInteger() {
		return model.Order{}, &model.ValidationError{Field: "qty", Reason: "fractional shares not permitted"}
	}

	if m.risk != nil {
		refPrice := decimal.Zero
		if o.LimitPrice != nil {
			refPrice = *o.LimitPrice
		}
		if ok, reason := m.risk.CanTrade(o.Symbol, o.Qty, refPrice); !ok {
			return model.Order{}, &model.ValidationError{Field: "risk", Reason: reason}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders[o.ID] = o
	m.journalOrder(*o)
	m.event("created")

	if err := o.Submit(); err != nil {
		return model.Order{}, err
	}

	if err := m.gateway.SubmitOrder(ctx, o.Snapshot()); err != nil {
		if rerr := o.Reject(err.Error()); rerr != nil {
			return model.Order{}, rerr
		}
		m.journalOrder(*o)
		m.event("rejected")
		m.notify(ctx, *o)
		m.emit(o)
		log.Printf("[oms] order %s rejected by venue: %v", o.ID, err)
		m.updateOpenGauge()
		return o.Snapshot(), nil
	}

	m.journalOrder(*o)
	m.event("submitted")
	m.emit(o)
	m.updateOpenGauge()
	log.Printf("[oms] order %s submitted: %s %s %s qty=%s", o.ID, o.Side, o.Kind, o.Symbol, o.Qty)
	return o.Snapshot(), nil
}

// Cancel withdraws an order from the venue and marks it CANCELLED.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrUnknownOrder
	}
	if err := m.gateway.CancelOrder(ctx, id); err != nil {
		return model.Order{}, err
	}
	if err := o.Cancel(); err != nil {
		return model.Order{}, err
	}
	m.journalOrder(*o)
	m.event("cancelled")
	m.notify(ctx, *o)
	m.emit(o)
	m.updateOpenGauge()
	log.Printf("[oms] order %s cancelled", id)
	return o.Snapshot(), nil
}

// Get returns a snapshot of the order with the given ID.
func (m *Manager) Get(id uuid.UUID) (model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrUnknownOrder
	}
	return o.Snapshot(), nil
}

// List returns snapshots of all orders, optionally only active ones.
func (m *Manager) List(activeOnly bool) []model.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if activeOnly && !o.IsActive() {
			continue
		}
		out = append(out, o.Snapshot())
	}
	return out
}

// PnLSummary returns the realized/unrealized P&L view built from fills.
func (m *Manager) PnLSummary(currentPrices map[string]decimal.Decimal) portfolio.PnLSummary {
	return m.pnl.GetSummary(currentPrices)
}

// Run consumes fill events from the gateway until ctx is cancelled or the
// fill channel closes. It is the only writer applying executions.
func (m *Manager) Run(ctx context.Context) {
	log.Printf("[oms] fill consumer started")
	fills := m.gateway.Fills()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[oms] fill consumer stopped: %v", ctx.Err())
			return
		case ev, ok := <-fills:
			if !ok {
				log.Printf("[oms] fill stream closed")
				return
			}
			m.applyFill(ctx, ev)
		}
	}
}

func (m *Manager) applyFill(ctx context.Context, ev execution.FillEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[ev.OrderID]
	if !ok {
		log.Printf("[oms] fill for unknown order %s dropped", ev.OrderID)
		return
	}
	if err := o.RecordFill(ev.Qty, ev.Price, ev.TS); err != nil {
		log.Printf("[oms] fill for order %s refused: %v", ev.OrderID, err)
		return
	}

	m.journalOrder(*o)
	m.journalFill(o.ID, model.Fill{Qty: ev.Qty, Price: ev.Price, TS: ev.TS})

	if m.pf != nil {
		m.pf.ApplyFill(o.Symbol, o.Side, ev.Qty, ev.Price)
	}
	realized := m.pnl.RecordTrade(portfolio.Trade{
		Symbol:    o.Symbol,
		Side:      o.Side,
		Qty:       ev.Qty,
		Price:     ev.Price,
		Timestamp: ev.TS,
	})
	if m.risk != nil && !realized.IsZero() {
		m.risk.RecordPnL(realized)
	}

	if m.prom != nil {
		m.prom.FillsTotal.Inc()
	}
	if o.Status == model.StatusFilled {
		m.event("filled")
		m.notify(ctx, *o)
		log.Printf("[oms] order %s filled: qty=%s avg=%s", o.ID, o.FilledQty, o.AvgFillPrice)
	}
	m.emit(o)
	m.updateOpenGauge()
}

// ExpireDayOrders cancels every active DAY order created before the most
// recent market close. Call it on startup and whenever the session rolls
// over; orders placed after the close (for the next session) are untouched.
func (m *Manager) ExpireDayOrders(ctx context.Context, now time.Time) int {
	prevClose := markethours.PrevClose(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for _, o := range m.orders {
		if !o.IsActive() || o.TIF != model.TIFDay {
			continue
		}
		if !o.CreatedAt.Before(prevClose) {
			continue
		}
		if err := m.gateway.CancelOrder(ctx, o.ID); err != nil {
			log.Printf("[oms] expiry cancel failed for %s: %v", o.ID, err)
			continue
		}
		if err := o.Cancel(); err != nil {
			continue
		}
		m.journalOrder(*o)
		m.event("expired")
		m.notify(ctx, *o)
		m.emit(o)
		expired++
	}
	if expired > 0 {
		log.Printf("[oms] expired %d day orders (session closed %s)", expired, prevClose.Format(time.RFC3339))
	}
	m.updateOpenGauge()
	return expired
}

// journalOrder persists the order snapshot; journal failures are logged, not
// fatal — the in-memory state remains authoritative.
func (m *Manager) journalOrder(o model.Order) {
	start := time.Now()
	if err := m.journal.RecordOrder(o); err != nil {
		log.Printf("[oms] journal write failed for %s: %v", o.ID, err)
		return
	}
	if m.prom != nil {
		m.prom.JournalWriteDur.Observe(time.Since(start).Seconds())
	}
}

func (m *Manager) journalFill(id uuid.UUID, f model.Fill) {
	if err := m.journal.RecordFill(id.String(), f); err != nil {
		log.Printf("[oms] fill journal write failed for %s: %v", id, err)
	}
}

func (m *Manager) notify(ctx context.Context, o model.Order) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(ctx, notification.OrderAlert(o)); err != nil {
		log.Printf("[oms] notification failed for %s: %v", o.ID, err)
	}
}

func (m *Manager) emit(o *model.Order) {
	if m.OnUpdate != nil {
		m.OnUpdate(o.Snapshot())
	}
}

func (m *Manager) event(name string) {
	if m.prom != nil {
		m.prom.OrderEvents.WithLabelValues(name).Inc()
	}
}

func (m *Manager) updateOpenGauge() {
	if m.prom == nil {
		return
	}
	open := 0
	for _, o := range m.orders {
		if !o.IsTerminal() {
			open++
		}
	}
	m.prom.OpenOrders.Set(float64(open))
}
