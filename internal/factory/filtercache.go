package factory

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

type filterKey struct {
	index  string
	filter string
	value  string
}

// FilterCache keeps the document ids matched by filter instances. Entries of
// an index are dropped whenever that index commits.
type FilterCache struct {
	cache *lru.Cache[filterKey, []string]
}

// NewFilterCache creates a cache of size entries. A size <= 0 returns nil,
// which disables caching.
func NewFilterCache(size int) (*FilterCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[filterKey, []string](size)
	if err != nil {
		return nil, err
	}
	return &FilterCache{cache: c}, nil
}

// Get returns cached document ids.
func (c *FilterCache) Get(index, filter, value string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	return c.cache.Get(filterKey{index, filter, value})
}

// Add caches document ids.
func (c *FilterCache) Add(index, filter, value string, ids []string) {
	if c == nil {
		return
	}
	c.cache.Add(filterKey{index, filter, value}, ids)
}

// InvalidateIndex drops every entry of index.
func (c *FilterCache) InvalidateIndex(index string) {
	if c == nil {
		return
	}
	for _, k := range c.cache.Keys() {
		if k.index == index {
			c.cache.Remove(k)
		}
	}
}

// Len returns the number of cached entries.
func (c *FilterCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
