package portfolio

import (
	"log"
	"sync"

	"github.com/shopspring/decimal"
)

// RiskLimits defines configurable risk management thresholds.
type RiskLimits struct {
	MaxOrderQty      decimal.Decimal `json:"max_order_qty"`      // max qty per order
	MaxOrderNotional decimal.Decimal `json:"max_order_notional"` // max order value
	MaxDailyLoss     decimal.Decimal `json:"max_daily_loss"`     // max daily loss
	MaxOpenPositions int             `json:"max_open_positions"` // max number of concurrent positions
	MaxExposure      decimal.Decimal `json:"max_exposure"`       // max total market value held
}

// DefaultRiskLimits returns conservative default limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxOrderQty:      decimal.NewFromInt(1000),
		MaxOrderNotional: decimal.NewFromInt(50000),
		MaxDailyLoss:     decimal.NewFromInt(5000),
		MaxOpenPositions: 20,
		MaxExposure:      decimal.NewFromInt(250000),
	}
}

// RiskManager validates orders against risk limits and tracks daily P&L.
type RiskManager struct {
	mu        sync.RWMutex
	limits    RiskLimits
	portfolio *Portfolio

	dailyPnL decimal.Decimal
}

// NewRiskManager creates a RiskManager with the given limits and portfolio.
func NewRiskManager(limits RiskLimits, pf *Portfolio) *RiskManager {
	return &RiskManager{
		limits:    limits,
		portfolio: pf,
	}
}

// CanTrade checks if a new order would violate any risk limits.
// price may be zero for market orders with no reference quote, in which
// case the notional check is skipped.
// Returns true if the order is allowed, false with a reason if not.
func (rm *RiskManager) CanTrade(symbol string, qty, price decimal.Decimal) (bool, string) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	// Check per-order quantity
	if qty.GreaterThan(rm.limits.MaxOrderQty) {
		return false, "order quantity exceeds limit"
	}

	// Check per-order notional
	if price.Sign() > 0 && qty.Mul(price).GreaterThan(rm.limits.MaxOrderNotional) {
		return false, "order notional exceeds limit"
	}

	// Check max open positions
	positions := rm.portfolio.GetPositions()
	isNew := true
	for _, pos := range positions {
		if pos.Symbol == symbol {
			isNew = false
			break
		}
	}
	if isNew && len(positions) >= rm.limits.MaxOpenPositions {
		return false, "max open positions reached"
	}

	// Check daily loss
	if rm.dailyPnL.Neg().GreaterThan(rm.limits.MaxDailyLoss) {
		return false, "max daily loss reached"
	}

	// Check total exposure
	exposure := rm.portfolio.TotalExposure()
	if price.Sign() > 0 {
		exposure = exposure.Add(qty.Mul(price))
	}
	if exposure.GreaterThan(rm.limits.MaxExposure) {
		return false, "max exposure exceeded"
	}

	return true, ""
}

// RecordPnL updates daily P&L tracking.
func (rm *RiskManager) RecordPnL(pnl decimal.Decimal) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.dailyPnL = rm.dailyPnL.Add(pnl)
	log.Printf("[risk] daily P&L: %s", rm.dailyPnL.StringFixed(2))
}

// ResetDaily resets the daily P&L counter (call at market open).
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyPnL = decimal.Zero
}

// GetStatus returns current risk status.
func (rm *RiskManager) GetStatus() map[string]interface{} {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return map[string]interface{}{
		"daily_pnl": rm.dailyPnL,
		"exposure":  rm.portfolio.TotalExposure(),
		"limits":    rm.limits,
	}
}
