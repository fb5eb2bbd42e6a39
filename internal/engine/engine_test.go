package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-sim/internal/events"
	"trading-sim/internal/instrument"
	"trading-sim/internal/order"
	"trading-sim/internal/risk"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(dur)
}

func testCatalog() *instrument.Catalog {
	return instrument.NewCatalog(instrument.Spec{
		MaxLeverage:           100,
		MinSize:               d("0.001"),
		MakerFeeRate:          d("0.0002"),
		TakerFeeRate:          d("0.0005"),
		MaintenanceMarginRate: d("0.005"),
	})
}

// testConfig has no slippage, a per-trade budget of the whole balance and
// the portfolio breakers disabled.
func testConfig(clk *clock) Config {
	catalog := testCatalog()
	rc := risk.DefaultConfig()
	rc.MaxRiskPerTradePct = d("100")
	rc.MaxDrawdownPct = decimal.Zero
	rc.MaxDailyLossPct = decimal.Zero
	return Config{
		Account:            "acct-1",
		InitialBalance:     d("10000"),
		Catalog:            catalog,
		LiquidationFeeRate: d("0.005"),
		MinOrderSize:       d("0.001"),
		MaxLeverage:        100,
		Risk:               rc,
		Filler:             order.NewSimulatedFiller(catalog, order.FixedSlippage(0), d("0.001")),
		Now:                clk.Now,
	}
}

func newEngine(t *testing.T, mutate ...func(*Config)) (*Engine, *clock) {
	t.Helper()
	clk := newClock()
	cfg := testConfig(clk)
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, clk
}

func buy(symbol, size, price string, leverage int) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: order.Buy, Size: d(size), Price: d(price), Leverage: leverage}
}

func sell(symbol, size, price string, leverage int) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: order.Sell, Size: d(size), Price: d(price), Leverage: leverage}
}

func assertConserved(t *testing.T, e *Engine) {
	t.Helper()
	bal := e.Balance()
	margins := decimal.Zero
	for _, p := range e.Positions() {
		margins = margins.Add(p.Margin)
	}
	assert.True(t, bal.Total.Sub(bal.Locked).Equal(bal.Available), "total-locked != available")
	assert.True(t, bal.Locked.Equal(margins), "locked %s != margins %s", bal.Locked, margins)
	assert.False(t, bal.Available.IsNegative(), "available %s", bal.Available)
}

func activityTypes(recs []events.Record) []events.Event {
	out := make([]events.Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Type)
	}
	return out
}

func TestScenarioLiquidationAt45250(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	res, err := e.PlaceOrder(ctx, buy("BTCUSDT", "1", "50000", 10))
	require.NoError(t, err)
	assert.True(t, res.Position.LiquidationPrice.Equal(d("45250")))
	assert.True(t, res.Order.Fee.Equal(d("25")))
	_, err = e.SetProtection("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	bal := e.Balance()
	assert.True(t, bal.Total.Equal(d("9975")))
	assert.True(t, bal.Locked.Equal(d("5000")))
	assertConserved(t, e)

	tick, err := e.UpdatePrice(ctx, "BTCUSDT", d("45300"))
	require.NoError(t, err)
	assert.Nil(t, tick.Liquidation)
	require.NotNil(t, tick.Position)
	assert.True(t, tick.Position.UnrealizedPnL.Equal(d("-4700")))

	tick, err = e.UpdatePrice(ctx, "BTCUSDT", d("45200"))
	require.NoError(t, err)
	require.NotNil(t, tick.Liquidation)
	assert.True(t, tick.Liquidation.RealizedPnL.Equal(d("-4750")))
	assert.True(t, tick.Liquidation.Fee.Equal(d("250")))
	require.NotNil(t, tick.Closed)
	assert.Equal(t, CloseLiquidated, tick.Closed.Reason)

	bal = e.Balance()
	assert.True(t, bal.Total.Equal(d("4975")), "total %s", bal.Total)
	assert.True(t, bal.Locked.IsZero())
	assert.Empty(t, e.Positions())
	assertConserved(t, e)

	assert.Equal(t, []events.Event{
		events.EventOrderCreated,
		events.EventOrderFilled,
		events.EventPositionOpened,
		events.EventPositionLiquidated,
	}, activityTypes(e.Activity(0)))
}

func TestInsufficientMarginLeavesLedgerUnchanged(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.PlaceOrder(context.Background(), buy("BTCUSDT", "2.4", "50000", 10))
	require.ErrorIs(t, err, ErrInsufficientMargin)

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.NotEmpty(t, rej.Reasons)
	assert.Equal(t, risk.CodeInsufficientMargin, rej.Reasons[0].Code)

	bal := e.Balance()
	assert.True(t, bal.Total.Equal(d("10000")))
	assert.True(t, bal.Locked.IsZero())
	assert.Empty(t, e.Orders(0))
	assert.Empty(t, e.Activity(0))
}

func TestFeeHeadroomIsCheckedBeforeLocking(t *testing.T) {
	e, _ := newEngine(t)

	// margin 10000 fits exactly, the taker fee does not
	_, err := e.PlaceOrder(context.Background(), buy("BTCUSDT", "2", "50000", 10))
	require.ErrorIs(t, err, ErrInsufficientMargin)
	assert.True(t, e.Balance().Locked.IsZero())
}

func TestDuplicatePositionIsStateConflict(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.PlaceOrder(ctx, buy("BTCUSDT", "0.1", "50000", 10))
	require.NoError(t, err)
	before := e.Balance()

	_, err = e.PlaceOrder(ctx, sell("btcusdt", "0.1", "50000", 10))
	require.ErrorIs(t, err, ErrStateConflict)
	assert.Equal(t, before, e.Balance())
	assert.Len(t, e.Positions(), 1)
	assert.Len(t, e.Orders(0), 1)
}

func TestValidationErrors(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	cases := map[string]OrderRequest{
		"bad side":        {Symbol: "BTCUSDT", Side: "hold", Size: d("1"), Price: d("50000"), Leverage: 10},
		"leverage zero":   buy("BTCUSDT", "0.1", "50000", 0),
		"leverage > max":  buy("BTCUSDT", "0.1", "50000", 101),
		"below min size":  buy("BTCUSDT", "0.0001", "50000", 10),
		"negative size":   buy("BTCUSDT", "-1", "50000", 10),
		"no price":        {Symbol: "BTCUSDT", Side: order.Buy, Size: d("0.1"), Leverage: 10},
		"limit w/o price": {Symbol: "BTCUSDT", Side: order.Buy, Type: order.Limit, Size: d("0.1"), Leverage: 10},
		"empty symbol":    buy("", "0.1", "50000", 10),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.PlaceOrder(ctx, req)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.True(t, e.Balance().Locked.IsZero())
	assert.Empty(t, e.Orders(0))
}

func TestMarketOrderUsesLastMark(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.UpdatePrice(ctx, "ETHUSDT", d("2000"))
	require.NoError(t, err)

	res, err := e.PlaceOrder(ctx, OrderRequest{Symbol: "ETHUSDT", Side: order.Buy, Size: d("1"), Leverage: 5})
	require.NoError(t, err)
	assert.True(t, res.Position.EntryPrice.Equal(d("2000")))
	assert.True(t, res.Position.Margin.Equal(d("400")))
}

func TestRecommendedSizeWhenNoneRequested(t *testing.T) {
	e, _ := newEngine(t, func(c *Config) { c.Risk.MaxRiskPerTradePct = d("2") })

	res, err := e.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: order.Buy, Price: d("50000"), Leverage: 10,
	})
	require.NoError(t, err)
	assert.True(t, res.Position.Size.Equal(d("0.04")), "size %s", res.Position.Size)
	assert.True(t, res.Position.Margin.Equal(d("200")))
	assert.True(t, res.Assessment.Has(risk.CodeVolatilityFallback))
	assert.True(t, res.Position.StopLoss.Equal(d("49000")))
	assert.True(t, res.Position.TakeProfit.Equal(d("51500")))
}

func TestClosePositionRealizesPnLThenReleases(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.PlaceOrder(ctx, buy("BTCUSDT", "0.1", "50000", 10))
	require.NoError(t, err)

	cr, err := e.ClosePosition(ctx, "BTCUSDT", d("51000"))
	require.NoError(t, err)
	assert.Equal(t, CloseManual, cr.Reason)
	assert.True(t, cr.RealizedPnL.Equal(d("100")))
	assert.True(t, cr.Fee.Equal(d("2.55")))
	require.NotNil(t, cr.Order)
	assert.True(t, cr.Order.ReduceOnly)
	assert.Equal(t, order.Sell, cr.Order.Side)

	bal := e.Balance()
	assert.True(t, bal.Total.Equal(d("10094.95")), "total %s", bal.Total)
	assert.True(t, bal.Locked.IsZero())
	assertConserved(t, e)

	_, err = e.ClosePosition(ctx, "BTCUSDT", d("51000"))
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestClosePastLiquidationLiquidates(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.PlaceOrder(ctx, sell("BTCUSDT", "1", "50000", 10))
	require.NoError(t, err)

	cr, err := e.ClosePosition(ctx, "BTCUSDT", d("60000"))
	require.NoError(t, err)
	assert.Equal(t, CloseLiquidated, cr.Reason)
	assert.True(t, cr.ExitPrice.Equal(d("54750")))
	assert.Nil(t, cr.Order)
	assertConserved(t, e)
}

func TestStopLossClosesOnTick(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	res, err := e.PlaceOrder(ctx, buy("BTCUSDT", "0.1", "50000", 10))
	require.NoError(t, err)
	require.True(t, res.Position.StopLoss.Equal(d("49000")))

	tick, err := e.UpdatePrice(ctx, "BTCUSDT", d("48900"))
	require.NoError(t, err)
	require.NotNil(t, tick.Closed)
	assert.Equal(t, CloseStopLoss, tick.Closed.Reason)
	assert.True(t, tick.Closed.RealizedPnL.Equal(d("-110")))

	bal := e.Balance()
	assert.True(t, bal.Total.Equal(d("9885.055")), "total %s", bal.Total)
	assert.Empty(t, e.Positions())
	assertConserved(t, e)
}

func TestTakeProfitClosesShortOnTick(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	res, err := e.PlaceOrder(ctx, sell("ETHUSDT", "1", "2000", 5))
	require.NoError(t, err)
	require.True(t, res.Position.TakeProfit.Equal(d("1940")))

	tick, err := e.UpdatePrice(ctx, "ETHUSDT", d("1939"))
	require.NoError(t, err)
	require.NotNil(t, tick.Closed)
	assert.Equal(t, CloseTakeProfit, tick.Closed.Reason)
	assert.True(t, tick.Closed.RealizedPnL.Equal(d("61")))
}

type failingFiller struct{}

func (failingFiller) Fill(context.Context, order.Order, decimal.Decimal) (order.Fill, error) {
	return order.Fill{}, fmt.Errorf("%w: venue unavailable", order.ErrFillRejected)
}

func TestFillFailureReleasesMargin(t *testing.T) {
	e, _ := newEngine(t, func(c *Config) { c.Filler = failingFiller{} })

	_, err := e.PlaceOrder(context.Background(), buy("BTCUSDT", "0.1", "50000", 10))
	require.ErrorIs(t, err, ErrExecution)
	require.ErrorIs(t, err, order.ErrFillRejected)

	bal := e.Balance()
	assert.True(t, bal.Total.Equal(d("10000")))
	assert.True(t, bal.Locked.IsZero())
	assert.Empty(t, e.Positions())

	orders := e.Orders(0)
	require.Len(t, orders, 1)
	assert.Equal(t, order.StatusRejected, orders[0].Status)
}

// flatFeeFiller fills at the reference price with a fixed fee, or fails
// while err is set. It offers no fee bound, so only the post-fill check
// protects the ledger.
type flatFeeFiller struct {
	fee decimal.Decimal
	err error
}

func (f *flatFeeFiller) Fill(_ context.Context, _ order.Order, ref decimal.Decimal) (order.Fill, error) {
	if f.err != nil {
		return order.Fill{}, f.err
	}
	return order.Fill{ReferencePrice: ref, Price: ref, Fee: f.fee}, nil
}

func TestUnpayableFeeRejectsSimulatedOrder(t *testing.T) {
	e, _ := newEngine(t, func(c *Config) { c.Filler = &flatFeeFiller{fee: d("40")} })

	// margin 10000 locks the whole balance, leaving nothing for the fee
	_, err := e.PlaceOrder(context.Background(), buy("BTCUSDT", "2", "50000", 10))
	require.ErrorIs(t, err, ErrInsufficientMargin)

	bal := e.Balance()
	assert.True(t, bal.Total.Equal(d("10000")), "total %s", bal.Total)
	assert.True(t, bal.Locked.IsZero())
	assert.Empty(t, e.Positions())

	orders := e.Orders(0)
	require.Len(t, orders, 1)
	assert.Equal(t, order.StatusRejected, orders[0].Status)
	assert.True(t, orders[0].Fee.IsZero())
	assert.Equal(t,
		[]events.Event{events.EventOrderCreated, events.EventOrderRejected},
		activityTypes(e.Activity(0)))
}

func TestLiveFillKeepsPositionWhenFeeExceedsFreeBalance(t *testing.T) {
	e, _ := newEngine(t, func(c *Config) {
		c.Mode = ModeLive
		c.Filler = &order.ConfirmedFiller{Adapter: stubAdapter{}}
	})

	res, err := e.PlaceOrder(context.Background(), buy("BTCUSDT", "2", "50000", 10))
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, res.Order.Status)
	assert.True(t, res.Order.Fee.Equal(d("40")))
	assert.True(t, res.Position.Margin.Equal(d("9960")), "margin %s", res.Position.Margin)

	bal := e.Balance()
	assert.True(t, bal.Total.Equal(d("9960")), "total %s", bal.Total)
	assert.True(t, bal.Available.IsZero())
	require.Len(t, e.Positions(), 1)
	assertConserved(t, e)

	types := activityTypes(e.Activity(0))
	assert.Contains(t, types, events.EventOrderFilled)
	assert.Contains(t, types, events.EventPositionOpened)
}

func TestLiveFeeBoundCheckedBeforeSending(t *testing.T) {
	e, _ := newEngine(t, func(c *Config) {
		c.Mode = ModeLive
		c.Filler = &order.ConfirmedFiller{Adapter: stubAdapter{}, Catalog: testCatalog()}
	})

	_, err := e.PlaceOrder(context.Background(), buy("BTCUSDT", "2", "50000", 10))
	require.ErrorIs(t, err, ErrInsufficientMargin)
	assert.Empty(t, e.Orders(0), "nothing reaches the exchange")
	assert.True(t, e.Balance().Locked.IsZero())
}

func TestFailedCloseKeepsMarkAndPosition(t *testing.T) {
	filler := &flatFeeFiller{}
	e, _ := newEngine(t, func(c *Config) { c.Filler = filler })
	ctx := context.Background()

	_, err := e.PlaceOrder(ctx, buy("BTCUSDT", "0.1", "50000", 10))
	require.NoError(t, err)

	filler.err = fmt.Errorf("%w: venue unavailable", order.ErrFillRejected)
	_, err = e.ClosePosition(ctx, "BTCUSDT", d("52000"))
	require.ErrorIs(t, err, ErrExecution)
	require.Len(t, e.Positions(), 1)
	orders := e.Orders(0)
	require.Len(t, orders, 2)
	assert.Equal(t, order.StatusRejected, orders[1].Status)

	// a zero exit price closes at the last mark, which the failed close must not have moved
	filler.err = nil
	cr, err := e.ClosePosition(ctx, "BTCUSDT", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, cr.ExitPrice.Equal(d("50000")), "exit %s", cr.ExitPrice)
	assertConserved(t, e)
}

func TestProposalWaitingOnLockSeesLateTrip(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	e.mu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := e.PlaceOrder(ctx, buy("BTCUSDT", "0.1", "50000", 10))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// Trip runs listeners that need e.mu, so it cannot run on this goroutine.
	go e.breaker.Trip(risk.Trip{Account: "other", Reason: "drawdown"})
	require.Eventually(t, e.breaker.Active, time.Second, time.Millisecond)
	e.mu.Unlock()

	require.ErrorIs(t, <-done, ErrEmergencyStop)
	require.Eventually(t, func() bool { return len(e.Positions()) == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, e.Orders(0))
}

func TestSetLeverageMovesMargin(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.PlaceOrder(ctx, buy("BTCUSDT", "0.1", "50000", 10))
	require.NoError(t, err)
	_, err = e.SetProtection("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	pos, err := e.SetLeverage(ctx, "BTCUSDT", 5)
	require.NoError(t, err)
	assert.True(t, pos.Margin.Equal(d("1000")))
	assert.True(t, pos.LiquidationPrice.Equal(d("40250")))
	assert.True(t, e.Balance().Locked.Equal(d("1000")))

	pos, err = e.SetLeverage(ctx, "BTCUSDT", 20)
	require.NoError(t, err)
	assert.True(t, pos.Margin.Equal(d("250")))
	assertConserved(t, e)

	_, err = e.SetLeverage(ctx, "BTCUSDT", 101)
	require.ErrorIs(t, err, ErrValidation)

	_, err = e.UpdatePrice(ctx, "BTCUSDT", d("48000"))
	require.NoError(t, err)
	_, err = e.SetLeverage(ctx, "BTCUSDT", 50)
	require.ErrorIs(t, err, ErrValidation)

	_, err = e.SetLeverage(ctx, "ETHUSDT", 5)
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestDailyLossTripsEmergencyUntilReset(t *testing.T) {
	e, clk := newEngine(t, func(c *Config) { c.Risk.MaxDailyLossPct = d("5") })
	ctx := context.Background()

	var tripped []events.Record
	e.emitter.On(func(r events.Record) {
		if r.Type == events.EventEmergencyTripped {
			tripped = append(tripped, r)
		}
	})

	_, err := e.PlaceOrder(ctx, buy("BTCUSDT", "1", "50000", 10))
	require.NoError(t, err)
	_, err = e.SetProtection("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	// unrealized -1000 on 10000 day start breaches the 5% limit
	_, err = e.UpdatePrice(ctx, "BTCUSDT", d("49000"))
	require.NoError(t, err)

	snap := e.Snapshot()
	assert.True(t, snap.Emergency.Active)
	assert.Equal(t, "acct-1", snap.Emergency.Trip.Account)
	assert.Empty(t, snap.Positions, "emergency closes open positions")
	assert.Len(t, tripped, 1)
	assertConserved(t, e)

	_, err = e.PlaceOrder(ctx, buy("ETHUSDT", "1", "2000", 5))
	require.ErrorIs(t, err, ErrEmergencyStop)

	clk.Advance(24 * time.Hour)
	_, err = e.PlaceOrder(ctx, buy("ETHUSDT", "1", "2000", 5))
	require.ErrorIs(t, err, ErrEmergencyStop, "the flag never clears on its own")

	require.True(t, e.ResetEmergency())
	_, err = e.PlaceOrder(ctx, buy("ETHUSDT", "1", "2000", 5))
	require.NoError(t, err)
}

func TestBreachDuringProposalIsEmergencyStop(t *testing.T) {
	e, _ := newEngine(t, func(c *Config) { c.Risk.MaxDrawdownPct = d("10") })
	ctx := context.Background()

	_, err := e.PlaceOrder(ctx, buy("BTCUSDT", "1", "50000", 10))
	require.NoError(t, err)
	_, err = e.SetProtection("BTCUSDT", decimal.Zero, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	// mark the position down without a tick so the breach is first seen by the gate
	e.mu.Lock()
	_, err = e.book.MarkToMarket("BTCUSDT", d("48000"), e.now())
	e.mu.Unlock()
	require.NoError(t, err)

	_, err = e.PlaceOrder(ctx, buy("ETHUSDT", "1", "2000", 5))
	require.ErrorIs(t, err, ErrEmergencyStop)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.True(t, e.breaker.Active())
}

func TestResetSimulation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.PlaceOrder(ctx, buy("BTCUSDT", "0.1", "50000", 10))
	require.NoError(t, err)

	require.NoError(t, e.ResetSimulation(ctx, d("5000")))
	bal := e.Balance()
	assert.True(t, bal.Total.Equal(d("5000")))
	assert.True(t, bal.Locked.IsZero())
	assert.Empty(t, e.Positions())
	assert.Empty(t, e.Orders(0))
	assert.Equal(t, []events.Event{events.EventSimulationReset}, activityTypes(e.Activity(0)))
}

type stubAdapter struct{}

func (stubAdapter) Confirm(_ context.Context, o order.Order, ref decimal.Decimal) (order.Confirmation, error) {
	return order.Confirmation{Price: ref, Fee: o.Size.Mul(ref).Mul(d("0.0004"))}, nil
}

func TestLiveModeUsesConfirmationsAndRefusesReset(t *testing.T) {
	e, _ := newEngine(t, func(c *Config) {
		c.Mode = ModeLive
		c.Filler = &order.ConfirmedFiller{Adapter: stubAdapter{}}
	})
	ctx := context.Background()

	res, err := e.PlaceOrder(ctx, buy("BTCUSDT", "0.1", "50000", 10))
	require.NoError(t, err)
	assert.True(t, res.Order.Fee.Equal(d("2")))

	err = e.ResetSimulation(ctx, d("10000"))
	require.ErrorIs(t, err, ErrStateConflict)

	_, err = New(Config{Account: "live", Mode: ModeLive, InitialBalance: d("100")})
	require.Error(t, err)
}

func TestConcurrentProposalsNeverOverlock(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 40)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.PlaceOrder(ctx, buy(fmt.Sprintf("SYM%dUSDT", i), "0.2", "50000", 10))
		}(i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = e.UpdatePrice(ctx, fmt.Sprintf("SYM%dUSDT", i), d("50010"))
		}(i)
	}
	wg.Wait()

	opened := 0
	for _, err := range errs {
		if err == nil {
			opened++
			continue
		}
		assert.True(t, errors.Is(err, ErrInsufficientMargin) || errors.Is(err, ErrRiskRejected),
			"unexpected %v", err)
	}
	assert.Positive(t, opened)
	assert.Len(t, e.Positions(), opened)
	assertConserved(t, e)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "none", Kind(nil))
	assert.Equal(t, "emergency_stop", Kind(ErrEmergencyStop))
	assert.Equal(t, "state_conflict", Kind(conflict(errors.New("x"))))
	assert.Equal(t, "validation", Kind(invalid("bad %d", 1)))
	assert.Equal(t, "insufficient_margin", Kind(&RejectionError{Kind: ErrInsufficientMargin}))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
}
