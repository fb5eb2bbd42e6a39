package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-sim/internal/engine"
	"trading-sim/internal/events"
	"trading-sim/internal/monitor"
	"trading-sim/internal/order"
	"trading-sim/internal/risk"
)

type placed struct {
	account string
	req     engine.OrderRequest
}

type fakePlacer struct {
	mu    sync.Mutex
	calls []placed
	err   error
}

func (f *fakePlacer) PlaceOrder(_ context.Context, account string, req engine.OrderRequest) (engine.PlaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, placed{account, req})
	if f.err != nil {
		return engine.PlaceResult{}, f.err
	}
	return engine.PlaceResult{Order: order.Order{ID: uint64(len(f.calls))}}, nil
}

func (f *fakePlacer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sig(confidence float64) Signal {
	return Signal{Symbol: "BTCUSDT", Side: order.Buy, Confidence: confidence, Timeframe: "1m", Source: "test"}
}

func TestFilterIsStrictlyAboveThreshold(t *testing.T) {
	f := NewFilter(0)
	assert.Equal(t, DefaultThreshold, f.Threshold)
	assert.False(t, f.Accept(sig(0.75)))
	assert.True(t, f.Accept(sig(0.76)))

	assert.Equal(t, 0.9, NewFilter(0.9).Threshold)
	assert.Equal(t, DefaultThreshold, NewFilter(1.5).Threshold)
}

func TestValidate(t *testing.T) {
	require.NoError(t, sig(0.8).Validate())

	bad := []Signal{
		{Side: order.Buy, Confidence: 0.8},
		{Symbol: "BTCUSDT", Side: "hold", Confidence: 0.8},
		{Symbol: "BTCUSDT", Side: order.Sell, Confidence: 1.2},
		{Symbol: "BTCUSDT", Side: order.Sell, Confidence: 0.8, Leverage: -1},
	}
	for _, s := range bad {
		assert.ErrorIs(t, s.Validate(), ErrInvalidSignal)
	}
}

func TestDispatcherDropsLowConfidence(t *testing.T) {
	p := &fakePlacer{}
	m := monitor.NewSystemMetrics()
	d := &Dispatcher{Engine: p, Filter: NewFilter(0.75), Account: "default", DefaultLeverage: 5, Metrics: m}

	out, err := d.Handle(context.Background(), sig(0.6))
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Contains(t, out.Reason, "not above threshold")
	assert.Zero(t, p.count())

	out, err = d.Handle(context.Background(), sig(0.9))
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	require.NotNil(t, out.Result)
	require.Equal(t, 1, p.count())
	assert.Equal(t, "default", p.calls[0].account)
	assert.Equal(t, 5, p.calls[0].req.Leverage)
	assert.Equal(t, order.Market, p.calls[0].req.Type)

	snap := m.GetSnapshot()
	assert.EqualValues(t, 1, snap.SignalsAccepted)
	assert.EqualValues(t, 1, snap.SignalsDiscarded)
}

func TestDispatcherPublishesRiskAlertOnRejection(t *testing.T) {
	bus := events.NewBus()
	alerts, unsub := bus.Subscribe(events.EventRiskAlert, 1)
	defer unsub()

	p := &fakePlacer{err: &engine.RejectionError{
		Kind:    engine.ErrRiskRejected,
		Reasons: []risk.Reason{{Code: risk.CodeLeverageUtilization, Message: "too much", Blocking: true}},
	}}
	d := &Dispatcher{Engine: p, Filter: NewFilter(0.5), Account: "a", DefaultLeverage: 3, Bus: bus}

	s := sig(0.9)
	s.Account = "b"
	s.Leverage = 7
	out, err := d.Handle(context.Background(), s)
	require.ErrorIs(t, err, engine.ErrRiskRejected)
	assert.True(t, out.Accepted)
	assert.Equal(t, "b", p.calls[0].account)
	assert.Equal(t, 7, p.calls[0].req.Leverage)

	select {
	case msg := <-alerts:
		assert.Equal(t, "b", msg.(map[string]any)["account"])
	case <-time.After(time.Second):
		t.Fatal("no risk alert")
	}
}

func TestQueueRunUntilClosed(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(sig(0.9)))
	require.NoError(t, q.Enqueue(context.Background(), sig(0.1)))
	assert.ErrorIs(t, q.TryEnqueue(sig(0.9)), ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, sig(0.9)), context.Canceled)

	p := &fakePlacer{}
	d := &Dispatcher{Engine: p, Filter: NewFilter(0.75), DefaultLeverage: 1}
	q.Close()
	d.Run(context.Background(), q)
	assert.Equal(t, 1, p.count())
}

func TestMACrossSignalsOnCross(t *testing.T) {
	m := NewMACross(2, 4, 4, "1m")
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var got []Signal
	for _, p := range []int64{10, 9, 8, 7, 8, 10, 11, 9, 6} {
		if s, ok := m.OnTick("btcusdt", decimal.NewFromInt(p), at); ok {
			got = append(got, s)
		}
	}
	require.Len(t, got, 2)

	assert.Equal(t, order.Buy, got[0].Side)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.InDelta(t, 0.6, got[0].Confidence, 1e-9)
	assert.Equal(t, "ma_cross_2_4", got[0].Source)
	assert.Equal(t, "1m", got[0].Timeframe)

	assert.Equal(t, order.Sell, got[1].Side)
	assert.InDelta(t, 0.625, got[1].Confidence, 1e-9)
}
