package events

import "time"

// Event enumerates high-level topics inside the simulator.
type Event string

const (
	// EventAll receives every event published on a Bus.
	EventAll Event = "*"

	EventPriceTick      Event = "price_tick"
	EventStrategySignal Event = "strategy_signal"
	EventRiskAlert      Event = "risk_alert"

	EventOrderCreated   Event = "order.created"
	EventOrderFilled    Event = "order.filled"
	EventOrderCancelled Event = "order.cancelled"
	EventOrderRejected  Event = "order.rejected"

	EventPositionOpened     Event = "position.opened"
	EventPositionUpdated    Event = "position.updated"
	EventPositionClosed     Event = "position.closed"
	EventPositionLiquidated Event = "position.liquidated"

	EventEmergencyTripped Event = "emergency.tripped"
	EventEmergencyReset   Event = "emergency.reset"
	EventSimulationReset  Event = "simulation.reset"
)

// Record is one lifecycle event as emitted by an engine.
type Record struct {
	ID      string    `json:"id"`
	Type    Event     `json:"type"`
	Account string    `json:"account"`
	Symbol  string    `json:"symbol,omitempty"`
	OrderID uint64    `json:"order_id,omitempty"`
	Time    time.Time `json:"time"`
	Data    any       `json:"data,omitempty"`
}
