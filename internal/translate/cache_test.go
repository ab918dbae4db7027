package translate

import (
	"fmt"
	"testing"
	"time"
)

func TestCacheHitAndMiss(t *testing.T) {
	cache := NewCache()
	if _, ok := cache.Get("th", "zh-TW", "สวัสดี"); ok {
		t.Fatalf("empty cache should miss")
	}
	cache.Put("th", "zh-TW", "สวัสดี", "你好")
	got, ok := cache.Get("th", "zh-TW", "สวัสดี")
	if !ok || got != "你好" {
		t.Fatalf("Get() = %q, %v, want %q, true", got, ok, "你好")
	}
	// Direction is part of the key.
	if _, ok := cache.Get("zh-TW", "th", "สวัสดี"); ok {
		t.Fatalf("reverse direction should miss")
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	cache := NewCacheWithConfig(10, 20*time.Millisecond)
	cache.Put("th", "zh-TW", "สวัสดี", "你好")
	if _, ok := cache.Get("th", "zh-TW", "สวัสดี"); !ok {
		t.Fatalf("fresh entry should hit")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := cache.Get("th", "zh-TW", "สวัสดี"); ok {
		t.Fatalf("entry should expire after the TTL")
	}
}

func TestCacheEvictsPastCapacity(t *testing.T) {
	cache := NewCacheWithConfig(3, time.Hour)
	for i := 0; i < 5; i++ {
		cache.Put("th", "zh-TW", fmt.Sprintf("text-%d", i), fmt.Sprintf("out-%d", i))
	}
	if cache.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", cache.Len())
	}
	if _, ok := cache.Get("th", "zh-TW", "text-0"); ok {
		t.Fatalf("oldest entry should have been evicted")
	}
	if _, ok := cache.Get("th", "zh-TW", "text-4"); !ok {
		t.Fatalf("newest entry should remain")
	}
}
