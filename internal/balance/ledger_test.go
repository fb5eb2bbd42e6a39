package balance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(t *testing.T, initial string) *Ledger {
	t.Helper()
	l, err := NewLedger(d(initial), nil)
	require.NoError(t, err)
	return l
}

func TestNewLedgerRejectsNonPositive(t *testing.T) {
	_, err := NewLedger(decimal.Zero, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLockReleaseRoundTrip(t *testing.T) {
	l := newLedger(t, "10000")

	require.True(t, l.LockMargin(d("2500")))
	b := l.Snapshot()
	assert.True(t, b.Total.Equal(d("10000")))
	assert.True(t, b.Locked.Equal(d("2500")))
	assert.True(t, b.Available.Equal(d("7500")))

	require.NoError(t, l.ReleaseMargin(d("2500")))
	b = l.Snapshot()
	assert.True(t, b.Locked.IsZero())
	assert.True(t, b.Available.Equal(d("10000")))
}

func TestLockMarginInsufficientLeavesLedgerUntouched(t *testing.T) {
	l := newLedger(t, "10000")

	assert.False(t, l.LockMargin(d("12000")))
	assert.False(t, l.LockMargin(decimal.Zero))
	b := l.Snapshot()
	assert.True(t, b.Locked.IsZero())
	assert.True(t, b.Total.Equal(d("10000")))
}

func TestReleaseMoreThanLockedIsInvariantError(t *testing.T) {
	l := newLedger(t, "1000")
	require.True(t, l.LockMargin(d("100")))

	err := l.ReleaseMargin(d("100.01"))
	assert.ErrorIs(t, err, ErrLedgerInvariant)
	assert.True(t, l.Snapshot().Locked.Equal(d("100")))
}

func TestApplyRealizedPnL(t *testing.T) {
	l := newLedger(t, "1000")
	require.True(t, l.LockMargin(d("400")))

	require.NoError(t, l.ApplyRealizedPnL(d("50")))
	assert.True(t, l.Snapshot().Total.Equal(d("1050")))

	require.NoError(t, l.ApplyRealizedPnL(d("-650")))
	assert.True(t, l.Snapshot().Available.IsZero())

	err := l.ApplyRealizedPnL(d("-1"))
	assert.ErrorIs(t, err, ErrLedgerInvariant)
	assert.True(t, l.Snapshot().Total.Equal(d("400")))
}

func TestDeductFee(t *testing.T) {
	l := newLedger(t, "100")
	require.True(t, l.LockMargin(d("90")))

	require.NoError(t, l.DeductFee(d("4")))
	assert.True(t, l.Snapshot().Total.Equal(d("96")))

	assert.ErrorIs(t, l.DeductFee(d("7")), ErrInsufficientBalance)
	assert.ErrorIs(t, l.DeductFee(d("-1")), ErrInvalidAmount)
	assert.True(t, l.Snapshot().Total.Equal(d("96")))
}

func TestSettleIsAllOrNothing(t *testing.T) {
	l := newLedger(t, "1000")
	require.True(t, l.LockMargin(d("500")))

	// loss larger than margin plus free funds
	err := l.Settle(d("500"), d("-1001"), decimal.Zero)
	assert.ErrorIs(t, err, ErrLedgerInvariant)
	b := l.Snapshot()
	assert.True(t, b.Locked.Equal(d("500")))
	assert.True(t, b.Total.Equal(d("1000")))

	require.NoError(t, l.Settle(d("500"), d("-200"), d("2.5")))
	b = l.Snapshot()
	assert.True(t, b.Locked.IsZero())
	assert.True(t, b.Total.Equal(d("797.5")))
}

func TestConservationAcrossOperations(t *testing.T) {
	l := newLedger(t, "10000")
	steps := []func(){
		func() { l.LockMargin(d("1000")) },
		func() { _ = l.DeductFee(d("2.5")) },
		func() { l.LockMargin(d("3000")) },
		func() { _ = l.Settle(d("1000"), d("-120"), d("1.2")) },
		func() { _ = l.ApplyRealizedPnL(d("75")) },
		func() { _ = l.ReleaseMargin(d("3000")) },
	}
	for i, step := range steps {
		step()
		b := l.Snapshot()
		assert.True(t, b.Available.Equal(b.Total.Sub(b.Locked)), "step %d", i)
		assert.False(t, b.Locked.IsNegative(), "step %d", i)
		assert.True(t, b.Locked.LessThanOrEqual(b.Total), "step %d", i)
	}
	assert.True(t, l.Snapshot().Total.Equal(d("9951.3")))
}

func TestReset(t *testing.T) {
	l := newLedger(t, "10000")
	require.True(t, l.LockMargin(d("500")))
	require.NoError(t, l.Reset(d("2000")))

	b := l.Snapshot()
	assert.True(t, b.Total.Equal(d("2000")))
	assert.True(t, b.Locked.IsZero())

	live, err := NewLiveLedger(d("100"), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, live.Reset(d("100")), ErrResetNotAllowed)
}
