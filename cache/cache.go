package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/use-agent/shopscrape/models"
)

// Cache is an in-memory TTL cache of search results keyed by target. It is
// safe for concurrent use. A nil *Cache never hits.
type Cache struct {
	lru *expirable.LRU[string, []models.ProductRecord]
}

// New creates a Cache holding at most size entries for ttl each. It returns
// nil when ttl or size is not positive, which disables caching.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &Cache{lru: expirable.NewLRU[string, []models.ProductRecord](size, nil, ttl)}
}

// Key derives a cache key from the resolved target, the backend and the
// result limit.
func Key(target, backend string, limit int) string {
	h := sha256.New()
	h.Write([]byte(target))
	h.Write([]byte("|"))
	h.Write([]byte(backend))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.Itoa(limit)))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached records for key.
func (c *Cache) Get(key string) ([]models.ProductRecord, bool) {
	if c == nil {
		return nil, false
	}
	recs, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return clone(recs), true
}

// Set stores a copy of records under key. Empty results are not cached.
func (c *Cache) Set(key string, records []models.ProductRecord) {
	if c == nil || len(records) == 0 {
		return
	}
	c.lru.Add(key, clone(records))
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

func clone(recs []models.ProductRecord) []models.ProductRecord {
	out := make([]models.ProductRecord, len(recs))
	for i, r := range recs {
		r.ImageURLs = append([]string(nil), r.ImageURLs...)
		if r.Price.Amount != nil {
			v := *r.Price.Amount
			r.Price.Amount = &v
		}
		out[i] = r
	}
	return out
}
