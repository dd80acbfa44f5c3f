package utils

import (
	"fmt"
	"sync"
	"time"
)

// ChannelStatsCache is a fixed-capacity cache of channel statistics.
// When full, the oldest insertion is evicted. It is constructed once in
// main and passed by reference; there is no package-level instance.
type ChannelStatsCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*statsEntry
	order    []string
}

type statsEntry struct {
	stats    *ChannelStats
	storedAt time.Time
}

func NewChannelStatsCache(capacity int, ttl time.Duration) *ChannelStatsCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &ChannelStatsCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*statsEntry, capacity),
	}
}

// StatsCacheKey builds the cache key for one channel and period.
func StatsCacheKey(channelID string, start, end time.Time) string {
	return fmt.Sprintf("%s:%d:%d", channelID, start.Unix(), end.Unix())
}

func (c *ChannelStatsCache) Get(key string) (*ChannelStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.storedAt) > c.ttl {
		c.removeLocked(key)
		return nil, false
	}
	return entry.stats, true
}

func (c *ChannelStatsCache) Put(key string, stats *ChannelStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = &statsEntry{stats: stats, storedAt: time.Now()}
		return
	}

	for len(c.entries) >= c.capacity && len(c.order) > 0 {
		c.removeLocked(c.order[0])
	}

	c.entries[key] = &statsEntry{stats: stats, storedAt: time.Now()}
	c.order = append(c.order, key)
}

func (c *ChannelStatsCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ChannelStatsCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
