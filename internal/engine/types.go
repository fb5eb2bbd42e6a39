package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"trading-sim/internal/balance"
	"trading-sim/internal/order"
	"trading-sim/internal/position"
	"trading-sim/internal/risk"
)

// Mode selects how orders are filled.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// OrderRequest is a trade intent submitted to PlaceOrder.
type OrderRequest struct {
	Symbol string     `json:"symbol"`
	Side   order.Side `json:"side"`
	Type   order.Type `json:"type"`
	// Size is optional; zero trades the risk gate's recommended size.
	Size decimal.Decimal `json:"size"`
	// Price is the reference price; market orders may omit it to use the last mark.
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stop_price"`
	Leverage  int             `json:"leverage"`

	// Optional protective levels; zero uses the ATR-derived ones.
	StopLoss       decimal.Decimal `json:"stop_loss"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
	TrailingOffset decimal.Decimal `json:"trailing_offset"`
}

// PlaceResult describes an accepted proposal.
type PlaceResult struct {
	Order      order.Order       `json:"order"`
	Position   position.Position `json:"position"`
	Assessment risk.Assessment   `json:"assessment"`
}

// CloseReason says why a position left the book.
type CloseReason string

const (
	CloseManual     CloseReason = "manual"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseEmergency  CloseReason = "emergency"
	CloseLiquidated CloseReason = "liquidated"
)

// CloseResult describes a closed or liquidated position.
type CloseResult struct {
	Position    position.Position `json:"position"`
	Order       *order.Order      `json:"order,omitempty"`
	ExitPrice   decimal.Decimal   `json:"exit_price"`
	RealizedPnL decimal.Decimal   `json:"realized_pnl"`
	Fee         decimal.Decimal   `json:"fee"`
	Reason      CloseReason       `json:"reason"`
}

// TickResult describes the effect of one price update.
type TickResult struct {
	Symbol      string                `json:"symbol"`
	Price       decimal.Decimal       `json:"price"`
	Position    *position.Position    `json:"position,omitempty"`
	Liquidation *position.Liquidation `json:"liquidation,omitempty"`
	Closed      *CloseResult          `json:"closed,omitempty"`
}

// Emergency is the state of the process-wide flag.
type Emergency struct {
	Active bool      `json:"active"`
	Trip   risk.Trip `json:"trip"`
}

// Snapshot is a read-only view of one account.
type Snapshot struct {
	Account   string              `json:"account"`
	Mode      Mode                `json:"mode"`
	Balance   balance.Balance     `json:"balance"`
	Positions []position.Position `json:"positions"`
	Portfolio risk.Portfolio      `json:"portfolio"`
	Equity    risk.Equity         `json:"equity"`
	Emergency Emergency           `json:"emergency"`
	At        time.Time           `json:"at"`
}
