package risk

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Trip describes why the emergency flag was raised.
type Trip struct {
	Account string    `json:"account"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Breaker is the process-wide emergency flag. Once tripped it stays set
// until Reset is called.
type Breaker struct {
	active atomic.Bool

	mu      sync.Mutex
	trip    Trip
	nextKey int
	onTrip  map[int]func(Trip)
	onReset map[int]func()
}

// NewBreaker returns a cleared breaker.
func NewBreaker() *Breaker {
	return &Breaker{onTrip: make(map[int]func(Trip)), onReset: make(map[int]func())}
}

// Active reports whether the flag is set.
func (b *Breaker) Active() bool { return b.active.Load() }

// Trip raises the flag. Listeners run synchronously, outside the breaker's
// lock, and only on the transition from cleared to set.
func (b *Breaker) Trip(t Trip) bool {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	b.mu.Lock()
	if b.active.Load() {
		b.mu.Unlock()
		return false
	}
	b.active.Store(true)
	b.trip = t
	listeners := make([]func(Trip), 0, len(b.onTrip))
	for _, k := range sortedKeys(b.onTrip) {
		listeners = append(listeners, b.onTrip[k])
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return true
}

// Reset clears the flag.
func (b *Breaker) Reset() bool {
	b.mu.Lock()
	if !b.active.Load() {
		b.mu.Unlock()
		return false
	}
	b.active.Store(false)
	b.trip = Trip{}
	listeners := make([]func(), 0, len(b.onReset))
	for _, k := range sortedKeys(b.onReset) {
		listeners = append(listeners, b.onReset[k])
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

// Status returns the flag and the trip that raised it.
func (b *Breaker) Status() (bool, Trip) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active.Load(), b.trip
}

// OnTrip registers a listener for trips and returns its removal func.
func (b *Breaker) OnTrip(fn func(Trip)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.nextKey
	b.nextKey++
	b.onTrip[k] = fn
	return func() {
		b.mu.Lock()
		delete(b.onTrip, k)
		b.mu.Unlock()
	}
}

// OnReset registers a listener for resets and returns its removal func.
func (b *Breaker) OnReset(fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.nextKey
	b.nextKey++
	b.onReset[k] = fn
	return func() {
		b.mu.Lock()
		delete(b.onReset, k)
		b.mu.Unlock()
	}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
