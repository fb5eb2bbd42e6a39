package risk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsOnceUntilReset(t *testing.T) {
	b := NewBreaker()
	var trips, resets int
	b.OnTrip(func(Trip) { trips++ })
	b.OnReset(func() { resets++ })

	assert.True(t, b.Trip(Trip{Account: "a", Reason: "daily loss"}))
	assert.False(t, b.Trip(Trip{Account: "b", Reason: "drawdown"}))
	assert.True(t, b.Active())

	active, trip := b.Status()
	assert.True(t, active)
	assert.Equal(t, "a", trip.Account)
	assert.False(t, trip.At.IsZero())

	assert.True(t, b.Reset())
	assert.False(t, b.Reset())
	assert.False(t, b.Active())
	assert.Equal(t, 1, trips)
	assert.Equal(t, 1, resets)
}

func TestBreakerConcurrentTrip(t *testing.T) {
	b := NewBreaker()
	var mu sync.Mutex
	calls := 0
	b.OnTrip(func(Trip) { mu.Lock(); calls++; mu.Unlock() })

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Trip(Trip{Reason: "x"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestBreakerListenerRemoval(t *testing.T) {
	b := NewBreaker()
	calls := 0
	off := b.OnTrip(func(Trip) { calls++ })
	off()
	b.Trip(Trip{Reason: "x"})
	assert.Equal(t, 0, calls)
}
