package market

import (
	"sync"
	"time"
)

// klineCache holds recently fetched kline windows per (symbol, timeframe).
// Each key carries its own lock so a cache-miss stampede collapses to one
// upstream call; cache hits skip rate-limit accounting entirely.
type klineCache struct {
	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

type cacheKey struct {
	symbol    string
	timeframe Timeframe
}

type cacheEntry struct {
	mu        sync.Mutex
	klines    []Kline
	expiresAt time.Time
}

func newKlineCache() *klineCache {
	return &klineCache{entries: make(map[cacheKey]*cacheEntry)}
}

// entry returns the per-key entry, creating it when absent.
func (c *klineCache) entry(symbol string, tf Timeframe) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{symbol: symbol, timeframe: tf}
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	return e
}

// getOrFetch serves the last `limit` candles from cache when fresh, or runs
// fetch under the per-key lock and stores the result.
func (c *klineCache) getOrFetch(symbol string, tf Timeframe, limit int, fetch func() ([]Kline, error)) ([]Kline, error) {
	e := c.entry(symbol, tf)

	e.mu.Lock()
	defer e.mu.Unlock()

	if time.Now().Before(e.expiresAt) && len(e.klines) >= limit {
		return tail(e.klines, limit), nil
	}

	klines, err := fetch()
	if err != nil {
		return nil, err
	}

	e.klines = klines
	e.expiresAt = time.Now().Add(tf.cacheTTL())
	return tail(klines, limit), nil
}

func tail(klines []Kline, n int) []Kline {
	if len(klines) <= n {
		out := make([]Kline, len(klines))
		copy(out, klines)
		return out
	}
	out := make([]Kline, n)
	copy(out, klines[len(klines)-n:])
	return out
}
