package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single point-in-time price observation streamed from the
// market data provider.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Size   int64           `json:"size"`     // last traded size
	TS     time.Time       `json:"quote_ts"` // UTC timestamp
}

// JSON returns the JSON-encoded quote (ignoring errors for hot-path usage).
func (q *Quote) JSON() []byte {
	b, _ := json.Marshal(q)
	return b
}
