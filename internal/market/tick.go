// Package market produces price ticks and feeds them to the engine.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one price observation. Ticks may repeat or arrive out of order.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}
