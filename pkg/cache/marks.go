// Package cache holds the last mark price per symbol, sharded so ticks for
// different symbols do not contend.
package cache

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const numShards = 16

// Mark is the last price seen for a symbol.
type Mark struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MarkCache is a sharded symbol -> Mark map.
type MarkCache struct {
	shards [numShards]*markShard
}

type markShard struct {
	mu    sync.RWMutex
	items map[string]Mark
}

// NewMarkCache creates an empty cache.
func NewMarkCache() *MarkCache {
	c := &MarkCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &markShard{items: make(map[string]Mark)}
	}
	return c
}

func (c *MarkCache) shard(symbol string) *markShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set stores price for symbol. An older timestamp never replaces a newer one.
func (c *MarkCache) Set(symbol string, price decimal.Decimal, at time.Time) {
	s := c.shard(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.items[symbol]; ok && at.Before(prev.UpdatedAt) {
		return
	}
	s.items[symbol] = Mark{Symbol: symbol, Price: price, UpdatedAt: at}
}

// Get returns the mark for symbol.
func (c *MarkCache) Get(symbol string) (Mark, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	m, ok := s.items[symbol]
	s.mu.RUnlock()
	return m, ok
}

// Len returns the number of symbols across all shards.
func (c *MarkCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Prices returns symbol -> price.
func (c *MarkCache) Prices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, m := range s.items {
			out[sym] = m.Price
		}
		s.mu.RUnlock()
	}
	return out
}

// Marks returns every mark ordered by symbol.
func (c *MarkCache) Marks() []Mark {
	var out []Mark
	for _, s := range c.shards {
		s.mu.RLock()
		for _, m := range s.items {
			out = append(out, m)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Cleanup removes marks not updated since now-maxAge and returns how many.
func (c *MarkCache) Cleanup(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, m := range s.items {
			if m.UpdatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
