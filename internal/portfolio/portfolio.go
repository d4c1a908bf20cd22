// Package portfolio tracks positions, P&L, and portfolio-level metrics.
//
// It maintains a real-time view of all open positions built from order
// fills, calculates unrealized P&L from latest quotes, and provides
// exposure summaries for risk checks.
package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"

	"trade-assistv1/internal/model"
)

// Position represents a single symbol position.
type Position struct {
	Symbol   string          `json:"symbol"`
	Qty      decimal.Decimal `json:"qty"`       // positive = long, negative = short
	AvgPrice decimal.Decimal `json:"avg_price"` // average entry price
	LastPx   decimal.Decimal `json:"last_px"`   // last quoted price
}

// UnrealizedPnL returns the unrealized P&L for the position.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.LastPx.Sub(p.AvgPrice).Mul(p.Qty)
}

// MarketValue returns the absolute market value of the position.
func (p *Position) MarketValue() decimal.Decimal {
	return p.LastPx.Mul(p.Qty).Abs()
}

// Portfolio tracks all open positions.
type Portfolio struct {
	mu        sync.RWMutex
	positions map[string]*Position // key = symbol
}

// New creates a new empty Portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]*Position),
	}
}

// ApplyFill updates the position for a symbol from an executed fill.
// Buys increase the signed quantity, sells decrease it. When a fill
// extends a position the average entry price is re-weighted; when it
// reduces one the average is kept and the freed quantity is realized.
func (pf *Portfolio) ApplyFill(symbol string, side model.Side, qty, price decimal.Decimal) {
	signed := qty
	if side == model.SideSell {
		signed = qty.Neg()
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	pos, ok := pf.positions[symbol]
	if !ok {
		pf.positions[symbol] = &Position{
			Symbol:   symbol,
			Qty:      signed,
			AvgPrice: price,
			LastPx:   price,
		}
		return
	}

	newQty := pos.Qty.Add(signed)
	switch {
	case newQty.IsZero():
		delete(pf.positions, symbol)
	case pos.Qty.Sign() == signed.Sign():
		// Extending: weighted-average entry price.
		totalCost := pos.AvgPrice.Mul(pos.Qty.Abs()).Add(price.Mul(qty))
		pos.Qty = newQty
		pos.AvgPrice = totalCost.Div(newQty.Abs())
		pos.LastPx = price
	case newQty.Sign() != pos.Qty.Sign():
		// Flipped through zero: the remainder opens at the fill price.
		pos.Qty = newQty
		pos.AvgPrice = price
		pos.LastPx = price
	default:
		// Reducing: entry price unchanged.
		pos.Qty = newQty
		pos.LastPx = price
	}
}

// UpdatePrice updates the last quoted price for a position.
func (pf *Portfolio) UpdatePrice(q model.Quote) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pos, ok := pf.positions[q.Symbol]; ok {
		pos.LastPx = q.Price
	}
}

// GetPosition returns the position for a symbol, if any.
func (pf *Portfolio) GetPosition(symbol string) (Position, bool) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	pos, ok := pf.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// GetPositions returns a snapshot of all positions.
func (pf *Portfolio) GetPositions() []Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	result := make([]Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		result = append(result, *p)
	}
	return result
}

// TotalUnrealizedPnL returns the total unrealized P&L across all positions.
func (pf *Portfolio) TotalUnrealizedPnL() decimal.Decimal {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	total := decimal.Zero
	for _, p := range pf.positions {
		total = total.Add(p.UnrealizedPnL())
	}
	return total
}

// TotalExposure returns the summed absolute market value of all positions.
func (pf *Portfolio) TotalExposure() decimal.Decimal {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	total := decimal.Zero
	for _, p := range pf.positions {
		total = total.Add(p.MarketValue())
	}
	return total
}
