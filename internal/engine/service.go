// Package engine is the simulation engine: it orchestrates the order log,
// position book and balance ledger of each account behind one lock, applies
// the risk gate before anything is locked, and emits lifecycle events.
package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"trading-sim/internal/events"
	"trading-sim/internal/order"
	"trading-sim/internal/position"
	"trading-sim/internal/risk"
)

// Service is the surface the API and CLI use. Registry implements it.
type Service interface {
	// Trading
	PlaceOrder(ctx context.Context, account string, req OrderRequest) (PlaceResult, error)
	ClosePosition(ctx context.Context, account, symbol string, exitPrice decimal.Decimal) (CloseResult, error)
	CancelOrder(ctx context.Context, account string, id uint64) (order.Order, error)
	SetLeverage(ctx context.Context, account, symbol string, leverage int) (position.Position, error)
	Assess(ctx context.Context, account string, req OrderRequest) (risk.Assessment, error)

	// Market data
	UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal) error

	// Queries
	Snapshot(ctx context.Context, account string) (Snapshot, error)
	Orders(ctx context.Context, account string, limit int) ([]order.Order, error)
	Activity(ctx context.Context, account string, limit int) ([]events.Record, error)
	Accounts() []string

	// Control
	OpenAccount(ctx context.Context, account string) (Snapshot, error)
	Emergency() Emergency
	ResetEmergency(ctx context.Context) error
	ResetSimulation(ctx context.Context, account string, initial decimal.Decimal) error
}
