package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-sim/internal/events"
)

func newRegistry(t *testing.T, mutate ...func(*Config)) (*Registry, *clock) {
	t.Helper()
	clk := newClock()
	cfg := testConfig(clk)
	for _, m := range mutate {
		m(&cfg)
	}
	r := NewRegistry(cfg)
	t.Cleanup(r.Close)
	return r, clk
}

func TestRegistryFansOutTicksAndSeedsMarks(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.PlaceOrder(ctx, "alice", buy("BTCUSDT", "0.1", "50000", 10))
	require.NoError(t, err)
	require.NoError(t, r.UpdatePrice(ctx, "btcusdt", d("51000")))

	snap, err := r.Snapshot(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].UnrealizedPnL.Equal(d("100")))

	res, err := r.PlaceOrder(ctx, "bob", OrderRequest{Symbol: "BTCUSDT", Side: "sell", Size: d("0.1"), Leverage: 10})
	require.NoError(t, err)
	assert.True(t, res.Position.EntryPrice.Equal(d("51000")), "new accounts start from the last marks")

	assert.Equal(t, []string{"alice", "bob"}, r.Accounts())
	marks := r.Marks()
	require.Len(t, marks, 1)
	assert.Equal(t, "BTCUSDT", marks[0].Symbol)
	assert.True(t, marks[0].Price.Equal(d("51000")))
}

func TestRegistrySharedEmergencyClosesEveryAccount(t *testing.T) {
	r, _ := newRegistry(t, func(c *Config) { c.Risk.MaxDailyLossPct = d("5") })
	ctx := context.Background()

	var seen []events.Event
	r.Emitter().On(func(rec events.Record) {
		if rec.Type == events.EventEmergencyTripped || rec.Type == events.EventEmergencyReset {
			seen = append(seen, rec.Type)
		}
	})

	_, err := r.PlaceOrder(ctx, "alice", buy("BTCUSDT", "1", "50000", 10))
	require.NoError(t, err)
	_, err = r.PlaceOrder(ctx, "bob", buy("ETHUSDT", "1", "2000", 5))
	require.NoError(t, err)
	for _, account := range []string{"alice", "bob"} {
		e, err := r.Get(account)
		require.NoError(t, err)
		for _, p := range e.Positions() {
			_, err = e.SetProtection(p.Symbol, decimal.Zero, decimal.Zero, decimal.Zero)
			require.NoError(t, err)
		}
	}

	require.NoError(t, r.UpdatePrice(ctx, "BTCUSDT", d("49000")))

	em := r.Emergency()
	require.True(t, em.Active)
	assert.Equal(t, "alice", em.Trip.Account)
	for _, account := range []string{"alice", "bob"} {
		snap, err := r.Snapshot(ctx, account)
		require.NoError(t, err)
		assert.Empty(t, snap.Positions, account)
		assert.True(t, snap.Balance.Locked.IsZero(), account)
	}

	_, err = r.PlaceOrder(ctx, "bob", buy("ETHUSDT", "1", "2000", 5))
	require.ErrorIs(t, err, ErrEmergencyStop)

	require.NoError(t, r.ResetEmergency(ctx))
	assert.False(t, r.Emergency().Active)
	_, err = r.PlaceOrder(ctx, "alice", buy("ETHUSDT", "1", "2000", 5))
	require.NoError(t, err)

	assert.Equal(t, []events.Event{events.EventEmergencyTripped, events.EventEmergencyReset}, seen)
}

func TestRegistryCreateAccountAndCleanup(t *testing.T) {
	r, clk := newRegistry(t)
	ctx := context.Background()

	id, err := r.CreateAccount(d("500"))
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	snap, err := r.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.True(t, snap.Balance.Total.Equal(d("500")))

	_, err = r.GetOrCreate("")
	require.NoError(t, err)
	_, err = r.PlaceOrder(ctx, "holder", buy("BTCUSDT", "0.1", "50000", 10))
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	assert.Equal(t, 1, r.CleanupIdle(time.Hour))
	assert.ElementsMatch(t, []string{DefaultAccount, "holder"}, r.Accounts())

	_, err = r.Orders(ctx, id, 10)
	require.ErrorIs(t, err, ErrUnknownAccount)
	_, err = r.Snapshot(ctx, id)
	require.ErrorIs(t, err, ErrUnknownAccount)

	snap, err = r.OpenAccount(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", snap.Account)
	assert.Contains(t, r.Accounts(), "fresh")
	_, err = r.ClosePosition(ctx, id, "BTCUSDT", decimal.Zero)
	require.ErrorIs(t, err, ErrStateConflict)
	require.ErrorIs(t, err, ErrUnknownAccount)
}

func TestRegistryRejectsBadTick(t *testing.T) {
	r, _ := newRegistry(t)
	require.ErrorIs(t, r.UpdatePrice(context.Background(), "BTCUSDT", decimal.Zero), ErrValidation)
}
