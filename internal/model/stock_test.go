package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func point(ts time.Time, close string) PricePoint {
	c := dec(close)
	return PricePoint{TS: ts, Open: c, High: c, Low: c, Close: c, Volume: 1000}
}

func TestNewStock_Valid(t *testing.T) {
	s, err := NewStock("acme", "Acme Corp", dec("100.00"), t0, nil)
	if err != nil {
		t.Fatalf("NewStock: %v", err)
	}
	if s.Symbol != "ACME" {
		t.Errorf("expected symbol ACME, got %s", s.Symbol)
	}
	if !s.Price.Equal(dec("100.00")) {
		t.Errorf("expected price 100.00, got %s", s.Price)
	}
	if !s.TS.Equal(t0) {
		t.Errorf("expected ts %v, got %v", t0, s.TS)
	}
}

func TestNewStock_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		symbol  string
		price   decimal.Decimal
		history []PricePoint
	}{
		{"empty symbol", "", dec("1"), nil},
		{"blank symbol", "   ", dec("1"), nil},
		{"negative price", "ACME", dec("-0.01"), nil},
		{"unordered history", "ACME", dec("1"), []PricePoint{
			point(t0.Add(time.Hour), "10"),
			point(t0, "11"),
		}},
		{"duplicate history ts", "ACME", dec("1"), []PricePoint{
			point(t0, "10"),
			point(t0, "11"),
		}},
		{"negative history price", "ACME", dec("1"), []PricePoint{
			point(t0, "-5"),
		}},
	}
	for _, tc := range cases {
		_, err := NewStock(tc.symbol, "", tc.price, t0, tc.history)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestStock_WithPrice(t *testing.T) {
	s, err := NewStock("ACME", "", dec("100.00"), t0, nil)
	if err != nil {
		t.Fatalf("NewStock: %v", err)
	}

	// Same timestamp — stale
	_, err = s.WithPrice(dec("105.00"), t0)
	var stale *StaleDataError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleDataError for same ts, got %v", err)
	}

	// Earlier timestamp — stale
	_, err = s.WithPrice(dec("105.00"), t0.Add(-time.Second))
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleDataError for earlier ts, got %v", err)
	}

	// Negative price — validation
	_, err = s.WithPrice(dec("-1"), t0.Add(time.Second))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for negative price, got %v", err)
	}

	t1 := t0.Add(time.Minute)
	s2, err := s.WithPrice(dec("105.00"), t1)
	if err != nil {
		t.Fatalf("WithPrice: %v", err)
	}
	if !s2.Price.Equal(dec("105.00")) || !s2.TS.Equal(t1) {
		t.Errorf("expected new snapshot 105.00@%v, got %s@%v", t1, s2.Price, s2.TS)
	}
	// Original snapshot untouched
	if !s.Price.Equal(dec("100.00")) || !s.TS.Equal(t0) {
		t.Errorf("original snapshot mutated: %s@%v", s.Price, s.TS)
	}
}

func TestStock_PriceChange(t *testing.T) {
	history := []PricePoint{
		point(t0, "100"),
		point(t0.Add(24*time.Hour), "110"),
		point(t0.Add(48*time.Hour), "99"),
	}
	s, err := NewStock("ACME", "", dec("99"), t0.Add(48*time.Hour), history)
	if err != nil {
		t.Fatalf("NewStock: %v", err)
	}

	abs, pct, err := s.PriceChange(t0, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("PriceChange: %v", err)
	}
	if !abs.Equal(dec("10")) {
		t.Errorf("expected abs=10, got %s", abs)
	}
	if !pct.Equal(dec("10")) {
		t.Errorf("expected pct=10, got %s", pct)
	}

	// As-of lookup: a timestamp between points resolves to the earlier point.
	abs, _, err = s.PriceChange(t0.Add(time.Hour), t0.Add(49*time.Hour))
	if err != nil {
		t.Fatalf("PriceChange as-of: %v", err)
	}
	if !abs.Equal(dec("-1")) {
		t.Errorf("expected abs=-1, got %s", abs)
	}

	// Before the window — no point
	_, _, err = s.PriceChange(t0.Add(-time.Hour), t0.Add(24*time.Hour))
	var nf *PointNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected PointNotFoundError, got %v", err)
	}
}

func TestStock_HistoryBetween(t *testing.T) {
	history := []PricePoint{
		point(t0, "1"),
		point(t0.Add(time.Hour), "2"),
		point(t0.Add(2*time.Hour), "3"),
	}
	s, err := NewStock("ACME", "", dec("3"), t0.Add(2*time.Hour), history)
	if err != nil {
		t.Fatalf("NewStock: %v", err)
	}

	got := s.HistoryBetween(t0.Add(30*time.Minute), t0.Add(2*time.Hour))
	if len(got) != 2 {
		t.Fatalf("expected 2 points, got %d", len(got))
	}
	if !got[0].Close.Equal(dec("2")) {
		t.Errorf("expected first close=2, got %s", got[0].Close)
	}

	latest, ok := s.LatestPoint()
	if !ok || !latest.Close.Equal(dec("3")) {
		t.Errorf("expected latest close=3, got %v ok=%v", latest.Close, ok)
	}
}
