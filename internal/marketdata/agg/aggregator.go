// Package agg builds interval OHLCV bars from a stream of quotes. The bars
// feed Stock history snapshots and the quote cache.
package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"trade-assistv1/internal/model"
)

// Bar is one finalized interval bar for a symbol.
type Bar struct {
	Symbol string
	Point  model.PricePoint
}

// barState holds the in-progress bar for one symbol in the current bucket.
type barState struct {
	bucket int64 // Unix second of the bucket start
	symbol string
	point  model.PricePoint
	sizes  int
}

// Aggregator builds interval OHLCV bars from a stream of quotes.
// It runs in a single goroutine and emits finalized bars when the interval
// rolls over.
type Aggregator struct {
	mu     sync.Mutex
	states map[string]*barState // key = symbol

	interval      int64 // bar length in seconds
	flushInterval time.Duration

	// OnDroppedQuote is called when a late quote is discarded (optional).
	OnDroppedQuote func()
}

// New creates an Aggregator producing bars of the given length in seconds.
func New(intervalSec int) *Aggregator {
	if intervalSec <= 0 {
		intervalSec = 60
	}
	return &Aggregator{
		states:        make(map[string]*barState),
		interval:      int64(intervalSec),
		flushInterval: 250 * time.Millisecond, // check frequency for bucket rollover
	}
}

// Run consumes quotes from quoteCh in a single goroutine, aggregates them
// into bars, and sends finalized bars to barCh. Blocks until ctx is
// cancelled or quoteCh is closed.
func (a *Aggregator) Run(ctx context.Context, quoteCh <-chan model.Quote, barCh chan<- Bar) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(barCh)
			return

		case quote, ok := <-quoteCh:
			if !ok {
				a.flushAll(barCh)
				return
			}
			a.processQuote(quote, barCh)

		case <-ticker.C:
			// Periodic flush: emit bars whose bucket is in the past
			a.flushOld(barCh)
		}
	}
}

// processQuote incorporates a single quote into the bar state.
func (a *Aggregator) processQuote(q model.Quote, barCh chan<- Bar) {
	bucket := q.TS.Unix() - q.TS.Unix()%a.interval

	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[q.Symbol]

	if exists && bucket < state.bucket {
		// Late quote — belongs to an older bucket, drop it
		if a.OnDroppedQuote != nil {
			a.OnDroppedQuote()
		}
		return
	}

	if exists && bucket > state.bucket {
		// New bucket — finalize the old bar first
		a.emit(state, barCh)
		delete(a.states, q.Symbol)
		exists = false
	}

	if !exists {
		a.states[q.Symbol] = &barState{
			bucket: bucket,
			symbol: q.Symbol,
			point: model.PricePoint{
				TS:     time.Unix(bucket, 0).UTC(),
				Open:   q.Price,
				High:   q.Price,
				Low:    q.Price,
				Close:  q.Price,
				Volume: q.Size,
			},
			sizes: 1,
		}
		return
	}

	// Same bucket — update OHLCV
	p := &state.point
	if q.Price.GreaterThan(p.High) {
		p.High = q.Price
	}
	if q.Price.LessThan(p.Low) {
		p.Low = q.Price
	}
	p.Close = q.Price
	p.Volume += q.Size
	state.sizes++
}

// flushOld emits bars for any bucket that has fully elapsed.
func (a *Aggregator) flushOld(barCh chan<- Bar) {
	now := time.Now().Unix()

	a.mu.Lock()
	defer a.mu.Unlock()

	for symbol, state := range a.states {
		if state.bucket+a.interval <= now {
			a.emit(state, barCh)
			delete(a.states, symbol)
		}
	}
}

// flushAll emits all open bars regardless of bucket.
func (a *Aggregator) flushAll(barCh chan<- Bar) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for symbol, state := range a.states {
		a.emit(state, barCh)
		delete(a.states, symbol)
	}
}

// emit sends a finalized bar to barCh. Non-blocking to avoid deadlocks.
func (a *Aggregator) emit(state *barState, barCh chan<- Bar) {
	select {
	case barCh <- Bar{Symbol: state.symbol, Point: state.point}:
	default:
		log.Printf("[agg] barCh full, dropping bar %s ts=%v", state.symbol, state.point.TS)
	}
}
