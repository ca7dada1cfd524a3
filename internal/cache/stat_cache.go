package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// StatCache holds per-path entries for a short TTL so repeated attribute
// lookups from a mount do not each hit the object store.
type StatCache struct {
	c *gocache.Cache
}

// NewStatCache creates a stat cache whose entries expire after ttl.
func NewStatCache(ttl time.Duration) *StatCache {
	return &StatCache{c: gocache.New(ttl, 2*ttl)}
}

// Get returns the cached entry for path.
func (sc *StatCache) Get(path string) (Entry, bool) {
	v, ok := sc.c.Get(path)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Set stores the entry for path with the default TTL.
func (sc *StatCache) Set(path string, e Entry) {
	sc.c.SetDefault(path, e)
}

// Delete removes path from the cache.
func (sc *StatCache) Delete(path string) {
	sc.c.Delete(path)
}

// DeletePrefix removes path and everything below it.
func (sc *StatCache) DeletePrefix(path string) {
	sc.c.Delete(path)
	prefix := path + "/"
	for k := range sc.c.Items() {
		if strings.HasPrefix(k, prefix) {
			sc.c.Delete(k)
		}
	}
}

// Size returns the number of cached entries, including expired ones not yet
// swept.
func (sc *StatCache) Size() int {
	return sc.c.ItemCount()
}

// Flush removes all entries.
func (sc *StatCache) Flush() {
	sc.c.Flush()
}
