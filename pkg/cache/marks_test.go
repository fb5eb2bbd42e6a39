package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkCacheKeepsNewest(t *testing.T) {
	c := NewMarkCache()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	c.Set("BTCUSDT", decimal.NewFromInt(50000), t0)
	c.Set("BTCUSDT", decimal.NewFromInt(49000), t0.Add(-time.Second))
	m, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.True(t, m.Price.Equal(decimal.NewFromInt(50000)))

	c.Set("BTCUSDT", decimal.NewFromInt(51000), t0.Add(time.Second))
	m, _ = c.Get("BTCUSDT")
	assert.True(t, m.Price.Equal(decimal.NewFromInt(51000)))

	_, ok = c.Get("ETHUSDT")
	assert.False(t, ok)
}

func TestMarkCacheListingAndCleanup(t *testing.T) {
	c := NewMarkCache()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Set("SOLUSDT", decimal.NewFromInt(150), t0)
	c.Set("BTCUSDT", decimal.NewFromInt(50000), t0.Add(time.Hour))
	c.Set("ETHUSDT", decimal.NewFromInt(3000), t0.Add(time.Hour))

	marks := c.Marks()
	require.Len(t, marks, 3)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		[]string{marks[0].Symbol, marks[1].Symbol, marks[2].Symbol})
	assert.Len(t, c.Prices(), 3)

	assert.Equal(t, 1, c.Cleanup(t0.Add(time.Hour), 30*time.Minute))
	assert.Equal(t, 2, c.Len())
}

func TestMarkCacheConcurrentWriters(t *testing.T) {
	c := NewMarkCache()
	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set(fmt.Sprintf("SYM%d", i%8), decimal.NewFromInt(int64(j)), now)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, c.Len())
}
