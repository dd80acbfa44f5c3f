package utils

import (
	"fmt"
	"testing"
	"time"
)

func TestChannelStatsCacheEvictsOldest(t *testing.T) {
	cache := NewChannelStatsCache(2, 0)

	cache.Put("a", &ChannelStats{MessageCount: 1})
	cache.Put("b", &ChannelStats{MessageCount: 2})
	cache.Put("c", &ChannelStats{MessageCount: 3})

	if cache.Len() != 2 {
		t.Fatalf("Len = %d, want capacity 2", cache.Len())
	}
	if _, ok := cache.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if stats, ok := cache.Get("c"); !ok || stats.MessageCount != 3 {
		t.Error("newest entry should survive")
	}
}

func TestChannelStatsCacheOverwriteKeepsCapacity(t *testing.T) {
	cache := NewChannelStatsCache(2, 0)

	cache.Put("a", &ChannelStats{MessageCount: 1})
	cache.Put("a", &ChannelStats{MessageCount: 9})
	cache.Put("b", &ChannelStats{MessageCount: 2})

	if cache.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cache.Len())
	}
	if stats, _ := cache.Get("a"); stats == nil || stats.MessageCount != 9 {
		t.Error("overwrite should replace the stored value")
	}
}

func TestChannelStatsCacheTTL(t *testing.T) {
	cache := NewChannelStatsCache(4, time.Millisecond)

	cache.Put("a", &ChannelStats{MessageCount: 1})
	time.Sleep(5 * time.Millisecond)

	if _, ok := cache.Get("a"); ok {
		t.Error("expired entry should not be served")
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d, expired entries are dropped on read", cache.Len())
	}
}

func TestStatsCacheKeyDistinguishesPeriods(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)

	a := StatsCacheKey("C1", start, end)
	b := StatsCacheKey("C1", start, end.Add(time.Hour))
	c := StatsCacheKey("C2", start, end)

	if a == b || a == c {
		t.Errorf("keys collide: %s %s %s", a, b, c)
	}
	if want := fmt.Sprintf("C1:%d:%d", start.Unix(), end.Unix()); a != want {
		t.Errorf("key = %s, want %s", a, want)
	}
}
