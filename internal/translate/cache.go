package translate

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 500
	defaultCacheTTL  = time.Hour
)

// Cache memoizes translation results keyed by the exact
// (sourceLang, targetLang, text) tuple. Quick-phrase UIs resend the same
// strings constantly, so hits are common across rooms. Entries are
// evicted LRU past capacity and expire after the TTL even when space
// remains.
type Cache struct {
	lru *expirable.LRU[string, string]
}

// NewCache returns a cache with the default capacity and TTL.
func NewCache() *Cache {
	return NewCacheWithConfig(defaultCacheSize, defaultCacheTTL)
}

// NewCacheWithConfig returns a cache with explicit capacity and TTL.
func NewCacheWithConfig(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

// Get returns the cached translation for the tuple, if present and fresh.
func (c *Cache) Get(sourceLang, targetLang, text string) (string, bool) {
	return c.lru.Get(cacheKey(sourceLang, targetLang, text))
}

// Put stores a translation for the tuple.
func (c *Cache) Put(sourceLang, targetLang, text, translated string) {
	c.lru.Add(cacheKey(sourceLang, targetLang, text), translated)
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

func cacheKey(sourceLang, targetLang, text string) string {
	// No normalization: a literal resend is the same key, anything else
	// is not.
	return sourceLang + ":" + targetLang + ":" + text
}
