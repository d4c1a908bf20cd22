package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one historical OHLCV observation for an instrument.
type PricePoint struct {
	TS     time.Time       `json:"ts"` // UTC
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Stock is an immutable-per-snapshot view of an instrument: identity, the
// latest quote, and an optional rolling window of historical price points.
// "Updates" never mutate in place; WithPrice returns a new snapshot, so a
// constructed Stock may be shared freely across concurrent readers.
type Stock struct {
	Symbol  string          `json:"symbol"`
	Name    string          `json:"name,omitempty"`
	Price   decimal.Decimal `json:"price"`
	TS      time.Time       `json:"ts"`
	History []PricePoint    `json:"history,omitempty"` // ordered by strictly increasing TS
}

// NewStock validates and builds a Stock snapshot. The symbol is upper-cased
// and immutable afterwards. History must be ordered by strictly increasing
// timestamp (no duplicates); all price values must be non-negative.
func NewStock(symbol, name string, price decimal.Decimal, ts time.Time, history []PricePoint) (Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Stock{}, &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if price.IsNegative() {
		return Stock{}, &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if err := validateHistory(history); err != nil {
		return Stock{}, err
	}
	return Stock{
		Symbol:  symbol,
		Name:    name,
		Price:   price,
		TS:      ts,
		History: history,
	}, nil
}

func validateHistory(history []PricePoint) error {
	for i, p := range history {
		if p.Open.IsNegative() || p.High.IsNegative() || p.Low.IsNegative() || p.Close.IsNegative() {
			return &ValidationError{Field: "history", Reason: "price values must not be negative"}
		}
		if i == 0 {
			continue
		}
		if !p.TS.After(history[i-1].TS) {
			return &ValidationError{Field: "history", Reason: "points must be ordered by strictly increasing timestamp"}
		}
	}
	return nil
}

// WithPrice returns a new snapshot carrying the updated quote. The receiver
// is not modified. Fails with StaleDataError unless ts is strictly after the
// current snapshot timestamp.
func (s Stock) WithPrice(price decimal.Decimal, ts time.Time) (Stock, error) {
	if price.IsNegative() {
		return Stock{}, &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if !ts.After(s.TS) {
		return Stock{}, &StaleDataError{Have: s.TS, Got: ts}
	}
	out := s
	out.Price = price
	out.TS = ts
	return out, nil
}

// WithHistory returns a new snapshot with the history window replaced
// wholesale (never partially edited), re-validated.
func (s Stock) WithHistory(history []PricePoint) (Stock, error) {
	if err := validateHistory(history); err != nil {
		return Stock{}, err
	}
	out := s
	out.History = history
	return out, nil
}

// pointAsOf returns the latest history point at or before ts.
func (s Stock) pointAsOf(ts time.Time) (PricePoint, error) {
	if len(s.History) == 0 || ts.Before(s.History[0].TS) {
		return PricePoint{}, &PointNotFoundError{Symbol: s.Symbol, TS: ts}
	}
	// First index whose TS is after ts; the answer is the one before it.
	i := sort.Search(len(s.History), func(i int) bool {
		return s.History[i].TS.After(ts)
	})
	return s.History[i-1], nil
}

// PriceChange computes the absolute and percentage close-to-close change
// between two moments in the stored history. Each timestamp resolves to the
// latest point at or before it; a timestamp preceding the whole window fails
// with PointNotFoundError.
func (s Stock) PriceChange(from, to time.Time) (abs, pct decimal.Decimal, err error) {
	fromPt, err := s.pointAsOf(from)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	toPt, err := s.pointAsOf(to)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	abs = toPt.Close.Sub(fromPt.Close)
	if fromPt.Close.IsZero() {
		return abs, decimal.Zero, nil
	}
	pct = abs.Div(fromPt.Close).Mul(decimal.NewFromInt(100))
	return abs, pct, nil
}

// HistoryBetween returns the history points with from <= TS <= to.
func (s Stock) HistoryBetween(from, to time.Time) []PricePoint {
	var out []PricePoint
	for _, p := range s.History {
		if p.TS.Before(from) || p.TS.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// LatestPoint returns the most recent history point, if any.
func (s Stock) LatestPoint() (PricePoint, bool) {
	if len(s.History) == 0 {
		return PricePoint{}, false
	}
	return s.History[len(s.History)-1], true
}
