package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trade-assistv1/internal/model"
)

// restingOrder is a limit/stop order waiting for its trigger price.
type restingOrder struct {
	order     model.Order
	remaining decimal.Decimal
}

// PaperGateway simulates order execution against the live quote feed without
// real broker calls. MARKET orders fill at the last quote with configured
// slippage; LIMIT and STOP orders rest until a quote crosses their price.
type PaperGateway struct {
	mu        sync.Mutex
	lastPrice map[string]decimal.Decimal
	resting   map[uuid.UUID]*restingOrder
	fillCh    chan FillEvent

	// Simulation parameters
	slippageBps int64           // basis points of slippage on market fills (e.g., 5 = 0.05%)
	maxFillQty  decimal.Decimal // fills larger than this are split (zero = never split)
}

// NewPaperGateway creates a paper trading gateway.
// slippageBps controls simulated slippage in basis points; maxFillQty, when
// positive, caps the size of a single fill so large orders fill partially.
func NewPaperGateway(fillBufferSize int, slippageBps int64, maxFillQty decimal.Decimal) *PaperGateway {
	return &PaperGateway{
		lastPrice: make(map[string]decimal.Decimal),
		resting:   make(map[uuid.UUID]*restingOrder),
		fillCh:    make(chan FillEvent, fillBufferSize),

		slippageBps: slippageBps,
		maxFillQty:  maxFillQty,
	}
}

// Fills returns the stream of simulated execution notifications.
func (p *PaperGateway) Fills() <-chan FillEvent {
	return p.fillCh
}

// Run consumes quotes, updates last prices, and triggers resting orders.
// Blocks until ctx is cancelled or quoteCh is closed.
func (p *PaperGateway) Run(ctx context.Context, quoteCh <-chan model.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quoteCh:
			if !ok {
				return
			}
			p.onQuote(q)
		}
	}
}

// SubmitOrder accepts a submitted order. MARKET orders execute immediately
// at last quote; LIMIT/STOP orders rest (except IOC, which must fill now or
// is refused). Returns an error when the venue cannot accept the order; the
// order manager surfaces that as a rejection.
func (p *PaperGateway) SubmitOrder(ctx context.Context, o model.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, haveQuote := p.lastPrice[o.Symbol]

	switch o.Kind {
	case model.KindMarket:
		if !haveQuote {
			return fmt.Errorf("paper: no market data for %s", o.Symbol)
		}
		p.fill(&o, o.Remaining(), p.slip(last, o.Side))
		return nil

	case model.KindLimit:
		if haveQuote && limitCrossed(o.Side, *o.LimitPrice, last) {
			p.fill(&o, o.Remaining(), *o.LimitPrice)
			return nil
		}
		if o.TIF == model.TIFIOC {
			return fmt.Errorf("paper: IOC limit order not immediately fillable at %s", o.LimitPrice)
		}
		p.resting[o.ID] = &restingOrder{order: o, remaining: o.Remaining()}
		return nil

	case model.KindStop:
		if o.TIF == model.TIFIOC {
			return fmt.Errorf("paper: IOC not supported for STOP orders")
		}
		p.resting[o.ID] = &restingOrder{order: o, remaining: o.Remaining()}
		return nil
	}
	return fmt.Errorf("paper: unsupported order kind %s", o.Kind)
}

// CancelOrder removes a resting order. Unknown IDs are a no-op: the order
// may already have fully filled.
func (p *PaperGateway) CancelOrder(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.resting, id)
	return nil
}

// onQuote updates the last price and fires any resting orders the quote crosses.
func (p *PaperGateway) onQuote(q model.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPrice[q.Symbol] = q.Price

	for id, ro := range p.resting {
		o := &ro.order
		if o.Symbol != q.Symbol {
			continue
		}
		switch o.Kind {
		case model.KindLimit:
			if limitCrossed(o.Side, *o.LimitPrice, q.Price) {
				p.fill(o, ro.remaining, *o.LimitPrice)
				delete(p.resting, id)
			}
		case model.KindStop:
			if stopTriggered(o.Side, *o.StopPrice, q.Price) {
				// Stop becomes a market order at the triggering quote
				p.fill(o, ro.remaining, p.slip(q.Price, o.Side))
				delete(p.resting, id)
			}
		}
	}
}

// limitCrossed reports whether price satisfies the limit for the given side:
// buys fill at or below the limit, sells at or above.
func limitCrossed(side model.Side, limit, price decimal.Decimal) bool {
	if side == model.SideBuy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

// stopTriggered reports whether price breaches the stop: buy stops trigger
// at or above the stop price, sell stops at or below.
func stopTriggered(side model.Side, stop, price decimal.Decimal) bool {
	if side == model.SideBuy {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

// slip applies slippage to a reference price: buys fill higher, sells lower.
func (p *PaperGateway) slip(price decimal.Decimal, side model.Side) decimal.Decimal {
	if p.slippageBps == 0 {
		return price
	}
	slip := price.Mul(decimal.NewFromInt(p.slippageBps)).Div(decimal.NewFromInt(10000))
	if side == model.SideBuy {
		return price.Add(slip)
	}
	return price.Sub(slip)
}

// fill emits fill events for qty at price, split into maxFillQty chunks when
// configured. Caller holds p.mu.
func (p *PaperGateway) fill(o *model.Order, qty, price decimal.Decimal) {
	now := time.Now().UTC()
	remaining := qty
	for remaining.IsPositive() {
		chunk := remaining
		if p.maxFillQty.IsPositive() && chunk.GreaterThan(p.maxFillQty) {
			chunk = p.maxFillQty
		}
		ev := FillEvent{OrderID: o.ID, Qty: chunk, Price: price, TS: now}
		select {
		case p.fillCh <- ev:
		default:
			log.Printf("[paper] fill channel full, dropping fill for order %s", o.ID)
			return
		}
		remaining = remaining.Sub(chunk)
	}
	log.Printf("[paper] %s %s %s qty=%s price=%s order=%s",
		o.Side, o.Kind, o.Symbol, qty, price, o.ID)
}
