package balance

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAmount is returned for non-positive (or negative fee) amounts.
	ErrInvalidAmount = errors.New("balance: invalid amount")
	// ErrInsufficientBalance is returned when a debit exceeds available funds.
	ErrInsufficientBalance = errors.New("balance: insufficient available balance")
	// ErrLedgerInvariant signals an accounting bug in the caller: releasing
	// more margin than is locked, or a realized loss larger than free equity.
	ErrLedgerInvariant = errors.New("balance: ledger invariant violated")
	// ErrResetNotAllowed is returned by Reset on a live ledger.
	ErrResetNotAllowed = errors.New("balance: reset is only allowed in simulation")
)

// Tolerance absorbs rounding when checking total against locked margin.
var Tolerance = decimal.New(1, -8)

// Balance is a point-in-time view of the ledger.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Locked    decimal.Decimal `json:"locked"`
	Available decimal.Decimal `json:"available"`
}

// Ledger tracks total capital and the part of it locked as position margin.
// available = total - locked, and 0 <= locked <= total after every operation.
type Ledger struct {
	mu     sync.RWMutex
	total  decimal.Decimal
	locked decimal.Decimal
	live   bool
	log    *zap.Logger
}

// NewLedger creates a simulated ledger funded with initial.
func NewLedger(initial decimal.Decimal, log *zap.Logger) (*Ledger, error) {
	if !initial.IsPositive() {
		return nil, fmt.Errorf("%w: initial balance %s", ErrInvalidAmount, initial)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{total: initial, locked: decimal.Zero, log: log}, nil
}

// NewLiveLedger creates a ledger mirroring a live account; Reset is refused.
func NewLiveLedger(initial decimal.Decimal, log *zap.Logger) (*Ledger, error) {
	l, err := NewLedger(initial, log)
	if err != nil {
		return nil, err
	}
	l.live = true
	return l, nil
}

// LockMargin moves amount from available to locked. It returns false and
// leaves the ledger untouched when amount exceeds available.
func (l *Ledger) LockMargin(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	available := l.total.Sub(l.locked)
	if amount.GreaterThan(available) {
		l.log.Debug("margin lock refused",
			zap.Stringer("amount", amount), zap.Stringer("available", available))
		return false
	}
	l.locked = l.locked.Add(amount)
	l.log.Debug("margin locked", zap.Stringer("amount", amount), zap.Stringer("locked", l.locked))
	return true
}

// ReleaseMargin returns amount from locked to available.
func (l *Ledger) ReleaseMargin(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: release %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.GreaterThan(l.locked) {
		l.log.Error("margin release exceeds locked",
			zap.Stringer("amount", amount), zap.Stringer("locked", l.locked))
		return fmt.Errorf("%w: release %s > locked %s", ErrLedgerInvariant, amount, l.locked)
	}
	l.locked = l.locked.Sub(amount)
	l.log.Debug("margin released", zap.Stringer("amount", amount), zap.Stringer("locked", l.locked))
	return nil
}

// ApplyRealizedPnL adds a signed amount to total. A loss that would push total
// below locked margin is refused: it means liquidation accounting went wrong.
func (l *Ledger) ApplyRealizedPnL(amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.total.Add(amount)
	if next.LessThan(l.locked.Sub(Tolerance)) {
		l.log.Error("realized loss exceeds free equity",
			zap.Stringer("pnl", amount), zap.Stringer("total", l.total), zap.Stringer("locked", l.locked))
		return fmt.Errorf("%w: pnl %s would leave total %s below locked %s",
			ErrLedgerInvariant, amount, next, l.locked)
	}
	l.total = next
	return nil
}

// DeductFee subtracts a non-negative fee from total. The fee must be covered
// by available funds.
func (l *Ledger) DeductFee(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: fee %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	available := l.total.Sub(l.locked)
	if amount.GreaterThan(available.Add(Tolerance)) {
		return fmt.Errorf("%w: fee %s > available %s", ErrInsufficientBalance, amount, available)
	}
	l.total = l.total.Sub(amount)
	return nil
}

// Settle releases margin, applies realized P&L and charges a fee as one step.
// Nothing is applied when any part would break the ledger invariants.
func (l *Ledger) Settle(release, pnl, fee decimal.Decimal) error {
	if release.IsNegative() || fee.IsNegative() {
		return fmt.Errorf("%w: settle release=%s fee=%s", ErrInvalidAmount, release, fee)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if release.GreaterThan(l.locked) {
		return fmt.Errorf("%w: release %s > locked %s", ErrLedgerInvariant, release, l.locked)
	}
	locked := l.locked.Sub(release)
	total := l.total.Add(pnl)
	if total.LessThan(locked.Sub(Tolerance)) {
		l.log.Error("realized loss exceeds free equity",
			zap.Stringer("pnl", pnl), zap.Stringer("total", l.total), zap.Stringer("locked", locked))
		return fmt.Errorf("%w: pnl %s would leave total %s below locked %s", ErrLedgerInvariant, pnl, total, locked)
	}
	total = total.Sub(fee)
	if total.LessThan(locked.Sub(Tolerance)) {
		return fmt.Errorf("%w: fee %s exceeds available after settlement", ErrInsufficientBalance, fee)
	}

	l.locked = locked
	l.total = total
	return nil
}

// Reset reinitializes a simulated ledger.
func (l *Ledger) Reset(initial decimal.Decimal) error {
	if !initial.IsPositive() {
		return fmt.Errorf("%w: initial balance %s", ErrInvalidAmount, initial)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.live {
		return ErrResetNotAllowed
	}
	l.total = initial
	l.locked = decimal.Zero
	l.log.Info("ledger reset", zap.Stringer("initial", initial))
	return nil
}

// Snapshot returns the current balance.
func (l *Ledger) Snapshot() Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Balance{
		Total:     l.total,
		Locked:    l.locked,
		Available: l.total.Sub(l.locked),
	}
}

// Available returns total minus locked margin.
func (l *Ledger) Available() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total.Sub(l.locked)
}
