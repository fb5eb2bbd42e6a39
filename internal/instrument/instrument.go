// Package instrument describes per-symbol contract parameters: leverage
// ceiling, order size limits, fee tiers and the maintenance margin rate.
package instrument

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Spec holds the trading parameters of one perpetual contract.
type Spec struct {
	Symbol                string
	MaxLeverage           int
	MinSize               decimal.Decimal
	SizeStep              decimal.Decimal // zero means no lot rounding
	MakerFeeRate          decimal.Decimal
	TakerFeeRate          decimal.Decimal
	MaintenanceMarginRate decimal.Decimal
}

// Catalog resolves a Spec per symbol, falling back to defaults for any field
// an override leaves unset.
type Catalog struct {
	mu        sync.RWMutex
	defaults  Spec
	overrides map[string]Spec
}

// NewCatalog creates a catalog with the given defaults.
func NewCatalog(defaults Spec) *Catalog {
	return &Catalog{
		defaults:  defaults,
		overrides: make(map[string]Spec),
	}
}

// Set registers per-symbol overrides.
func (c *Catalog) Set(s Spec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[Normalize(s.Symbol)] = s
}

// Get returns the resolved spec for symbol.
func (c *Catalog) Get(symbol string) Spec {
	c.mu.RLock()
	o, ok := c.overrides[Normalize(symbol)]
	d := c.defaults
	c.mu.RUnlock()

	out := d
	out.Symbol = Normalize(symbol)
	if !ok {
		return out
	}
	if o.MaxLeverage > 0 {
		out.MaxLeverage = o.MaxLeverage
	}
	if o.MinSize.IsPositive() {
		out.MinSize = o.MinSize
	}
	if o.SizeStep.IsPositive() {
		out.SizeStep = o.SizeStep
	}
	if o.MakerFeeRate.IsPositive() {
		out.MakerFeeRate = o.MakerFeeRate
	}
	if o.TakerFeeRate.IsPositive() {
		out.TakerFeeRate = o.TakerFeeRate
	}
	if o.MaintenanceMarginRate.IsPositive() {
		out.MaintenanceMarginRate = o.MaintenanceMarginRate
	}
	return out
}

// Symbols lists the symbols that carry overrides.
func (c *Catalog) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.overrides))
	for s := range c.overrides {
		out = append(out, s)
	}
	return out
}

// FloorToStep rounds size down to a multiple of the lot step.
func (s Spec) FloorToStep(size decimal.Decimal) decimal.Decimal {
	if !s.SizeStep.IsPositive() {
		return size
	}
	return size.Div(s.SizeStep).Floor().Mul(s.SizeStep)
}

// Normalize upper-cases and trims a symbol.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
