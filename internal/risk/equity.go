package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Equity is the tracker's view at one instant.
type Equity struct {
	Peak          decimal.Decimal `json:"peak"`
	DayStart      decimal.Decimal `json:"day_start"`
	DailyRealized decimal.Decimal `json:"daily_realized"`
	Day           time.Time       `json:"day"` // UTC midnight of the current trading day
	At            time.Time       `json:"at"`
}

// Tracker follows peak equity and today's realized P&L. Days roll over at
// UTC midnight; the equity observed at rollover becomes the new day start.
type Tracker struct {
	mu            sync.Mutex
	now           func() time.Time
	peak          decimal.Decimal
	dayStart      decimal.Decimal
	dailyRealized decimal.Decimal
	day           time.Time
	last          decimal.Decimal
}

// NewTracker starts tracking from initial equity. now defaults to time.Now.
func NewTracker(initial decimal.Decimal, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{now: now}
	t.reset(initial)
	return t
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func (t *Tracker) reset(initial decimal.Decimal) {
	t.peak = initial
	t.dayStart = initial
	t.last = initial
	t.dailyRealized = decimal.Zero
	t.day = utcDay(t.now())
}

func (t *Tracker) rollLocked(at time.Time) {
	if day := utcDay(at); day.After(t.day) {
		t.day = day
		t.dayStart = t.last
		t.dailyRealized = decimal.Zero
	}
}

// Observe records the current equity and returns the updated view.
func (t *Tracker) Observe(equity decimal.Decimal) Equity {
	t.mu.Lock()
	defer t.mu.Unlock()
	at := t.now()
	t.rollLocked(at)
	t.last = equity
	if equity.GreaterThan(t.peak) {
		t.peak = equity
	}
	return t.viewLocked(at)
}

// RecordRealized adds realized P&L, net of fees, to today's total.
func (t *Tracker) RecordRealized(pnl decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked(t.now())
	t.dailyRealized = t.dailyRealized.Add(pnl)
}

// View returns the current state without recording equity.
func (t *Tracker) View() Equity {
	t.mu.Lock()
	defer t.mu.Unlock()
	at := t.now()
	t.rollLocked(at)
	return t.viewLocked(at)
}

func (t *Tracker) viewLocked(at time.Time) Equity {
	return Equity{
		Peak:          t.peak,
		DayStart:      t.dayStart,
		DailyRealized: t.dailyRealized,
		Day:           t.day,
		At:            at,
	}
}

// Reset restarts tracking from initial equity.
func (t *Tracker) Reset(initial decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset(initial)
}
