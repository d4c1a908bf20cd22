package agg

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-assistv1/internal/model"
)

func quote(symbol string, price float64, size int64, ts time.Time) model.Quote {
	return model.Quote{Symbol: symbol, Price: decimal.NewFromFloat(price), Size: size, TS: ts}
}

func TestAggregator_BasicBar(t *testing.T) {
	agg := New(60)
	quoteCh := make(chan model.Quote, 100)
	barCh := make(chan Bar, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx, quoteCh, barCh)
		close(done)
	}()

	now := time.Now().UTC().Truncate(time.Minute)

	// Three quotes in the same minute
	quoteCh <- quote("ACME", 100.00, 10, now)
	quoteCh <- quote("ACME", 101.50, 20, now.Add(10*time.Second))
	quoteCh <- quote("ACME", 99.75, 5, now.Add(30*time.Second))

	// A quote in the next minute triggers flush of the previous bucket
	quoteCh <- quote("ACME", 100.25, 15, now.Add(61*time.Second))

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done // wait for goroutine to finish

	var bars []Bar
	for {
		select {
		case b := <-barCh:
			bars = append(bars, b)
		default:
			goto collected
		}
	}
collected:

	if len(bars) < 1 {
		t.Fatalf("expected at least 1 bar, got %d", len(bars))
	}

	b := bars[0]
	if b.Symbol != "ACME" {
		t.Errorf("expected symbol ACME, got %s", b.Symbol)
	}
	if !b.Point.Open.Equal(decimal.NewFromFloat(100.00)) {
		t.Errorf("expected open=100.00, got %s", b.Point.Open)
	}
	if !b.Point.High.Equal(decimal.NewFromFloat(101.50)) {
		t.Errorf("expected high=101.50, got %s", b.Point.High)
	}
	if !b.Point.Low.Equal(decimal.NewFromFloat(99.75)) {
		t.Errorf("expected low=99.75, got %s", b.Point.Low)
	}
	if !b.Point.Close.Equal(decimal.NewFromFloat(99.75)) {
		t.Errorf("expected close=99.75, got %s", b.Point.Close)
	}
	if b.Point.Volume != 35 {
		t.Errorf("expected volume=35, got %d", b.Point.Volume)
	}
}

func TestAggregator_MultipleSymbols(t *testing.T) {
	agg := New(60)
	quoteCh := make(chan model.Quote, 100)
	barCh := make(chan Bar, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx, quoteCh, barCh)
		close(done)
	}()

	now := time.Now().UTC().Truncate(time.Minute)

	quoteCh <- quote("ACME", 100, 10, now)
	quoteCh <- quote("GLOBEX", 50, 5, now)
	quoteCh <- quote("ACME", 101, 1, now.Add(61*time.Second))
	quoteCh <- quote("GLOBEX", 51, 1, now.Add(61*time.Second))

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	seen := map[string]bool{}
	for {
		select {
		case b := <-barCh:
			seen[b.Symbol] = true
		default:
			goto done2
		}
	}
done2:
	if !seen["ACME"] || !seen["GLOBEX"] {
		t.Errorf("expected bars for both symbols, got %v", seen)
	}
}

func TestAggregator_LateQuoteDropped(t *testing.T) {
	agg := New(60)
	dropCh := make(chan struct{}, 10)
	agg.OnDroppedQuote = func() { dropCh <- struct{}{} }

	quoteCh := make(chan model.Quote, 100)
	barCh := make(chan Bar, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx, quoteCh, barCh)

	now := time.Now().UTC().Truncate(time.Minute)

	quoteCh <- quote("ACME", 100, 1, now.Add(2*time.Minute))
	quoteCh <- quote("ACME", 99, 1, now) // two buckets behind — late

	select {
	case <-dropCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for late-quote drop")
	}
}
