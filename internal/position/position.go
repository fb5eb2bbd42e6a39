// Package position keeps the book of open leveraged positions: at most one
// per symbol, marked to market on every tick and liquidated when the mark
// crosses the liquidation price.
package position

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionExists is returned when opening a symbol that already has a position.
	ErrPositionExists = errors.New("position: already open for symbol")
	// ErrNoPosition is returned when closing or adjusting a symbol without a position.
	ErrNoPosition = errors.New("position: no open position for symbol")
	// ErrInvalidPosition wraps malformed open/adjust parameters.
	ErrInvalidPosition = errors.New("position: invalid parameters")
)

// Side of a position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// ParseSide accepts long/short as well as the order sides buy/sell.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, true
	case "short", "sell":
		return Short, true
	}
	return "", false
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Position is an open leveraged position. Values returned by the Book are copies.
type Position struct {
	Symbol                string          `json:"symbol"`
	Side                  Side            `json:"side"`
	Size                  decimal.Decimal `json:"size"`
	Margin                decimal.Decimal `json:"margin"`
	Leverage              int             `json:"leverage"`
	EntryPrice            decimal.Decimal `json:"entry_price"`
	MaintenanceMarginRate decimal.Decimal `json:"maintenance_margin_rate"`
	LiquidationPrice      decimal.Decimal `json:"liquidation_price"`
	MarkPrice             decimal.Decimal `json:"mark_price"`
	UnrealizedPnL         decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent  decimal.Decimal `json:"unrealized_pnl_percent"`

	StopLoss       decimal.Decimal `json:"stop_loss"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
	TrailingOffset decimal.Decimal `json:"trailing_offset"` // fraction, e.g. 0.01 = 1%
	HighWaterMark  decimal.Decimal `json:"high_water_mark"` // best price seen; lowest for shorts

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notional is size * entry price.
func (p Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// PnLAt returns the P&L of the position if it were valued at price.
func (p Position) PnLAt(price decimal.Decimal) decimal.Decimal {
	return PnL(p.Side, p.Size, p.EntryPrice, price)
}

// PnL is size*(price-entry) for longs and the negation for shorts.
func PnL(side Side, size, entry, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(entry)
	if side == Short {
		diff = diff.Neg()
	}
	return size.Mul(diff)
}

// LiquidationPrice derives the forced-close price for a position:
//
//	long:  entry * (1 - 1/leverage + mmr)
//	short: entry * (1 + 1/leverage - mmr)
func LiquidationPrice(side Side, entry decimal.Decimal, leverage int, mmr decimal.Decimal) decimal.Decimal {
	inv := one.Div(decimal.NewFromInt(int64(leverage)))
	if side == Short {
		return entry.Mul(one.Add(inv).Sub(mmr))
	}
	return entry.Mul(one.Sub(inv).Add(mmr))
}

// Crossed reports whether price is at or beyond the liquidation price.
func (p Position) Crossed(price decimal.Decimal) bool {
	if p.Side == Long {
		return price.LessThanOrEqual(p.LiquidationPrice)
	}
	return price.GreaterThanOrEqual(p.LiquidationPrice)
}

func (p *Position) mark(price decimal.Decimal, at time.Time) {
	p.MarkPrice = price
	p.UnrealizedPnL = p.PnLAt(price)
	if n := p.Notional(); n.IsPositive() {
		p.UnrealizedPnLPercent = p.UnrealizedPnL.Div(n).Mul(hundred)
	}
	p.UpdatedAt = at
}
