// Package order keeps the log of simulated orders and turns a reference price
// into an execution price and fee through a pluggable fill model.
package order

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidOrder wraps every validation failure in Create.
	ErrInvalidOrder = errors.New("order: invalid order")
	// ErrOrderNotFound is returned for unknown ids.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderTerminal is returned when an order already left the created state.
	ErrOrderTerminal = errors.New("order: already in terminal state")
	// ErrFillRejected is returned when a fill model cannot produce a usable fill.
	ErrFillRejected = errors.New("order: fill rejected")
)

// Side of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide accepts buy/sell and long/short in any case.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return Buy, true
	case "sell", "short":
		return Sell, true
	}
	return "", false
}

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Type of an order.
type Type string

const (
	Market     Type = "market"
	Limit      Type = "limit"
	Stop       Type = "stop"
	TakeProfit Type = "take_profit"
)

// ParseType accepts the lower- or upper-case names; empty means market.
func ParseType(s string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "market":
		return Market, true
	case "limit":
		return Limit, true
	case "stop", "stop_market", "stop_loss":
		return Stop, true
	case "take_profit", "take-profit", "take_profit_market":
		return TakeProfit, true
	}
	return "", false
}

// NeedsStopPrice reports whether the type is triggered by a stop price.
func (t Type) NeedsStopPrice() bool { return t == Stop || t == TakeProfit }

// Status of an order. Everything except Created is terminal.
type Status string

const (
	StatusCreated   Status = "created"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s != StatusCreated }

// Spec is an order request.
type Spec struct {
	Symbol     string
	Side       Side
	Type       Type
	Size       decimal.Decimal
	Price      decimal.Decimal // required for non-market types
	StopPrice  decimal.Decimal // required for stop and take-profit
	Leverage   int
	ReduceOnly bool
}

// Order is a recorded order. Values returned by the Log are copies.
type Order struct {
	ID         uint64          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Type       Type            `json:"type"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	StopPrice  decimal.Decimal `json:"stop_price"`
	Leverage   int             `json:"leverage"`
	ReduceOnly bool            `json:"reduce_only"`
	Status     Status          `json:"status"`

	ReferencePrice decimal.Decimal `json:"reference_price"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	Fee            decimal.Decimal `json:"fee"`
	Reason         string          `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notional is size * fill price; zero until filled.
func (o Order) Notional() decimal.Decimal {
	return o.Size.Mul(o.FillPrice)
}
