package cache

import (
	"sync"
	"time"

	"github.com/ocifs/ocifs-go/internal/ocipath"
)

// EntryType is the kind of a directory entry.
type EntryType string

const (
	TypeFile      EntryType = "file"
	TypeDirectory EntryType = "directory"
)

// Entry describes one child in a directory listing.
type Entry struct {
	Name          string
	Type          EntryType
	Size          int64
	ETag          string
	MD5           string
	TimeCreated   time.Time
	TimeModified  time.Time
	StorageTier   string
	ArchivalState string
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type == TypeDirectory
}

// DirCache holds complete listings keyed by canonical path. A listing is
// either absent or complete; partial listings are never stored.
//
// Concurrent writers to the same key race and the last Put wins. The mutex
// only keeps the map itself consistent.
type DirCache struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewDirCache creates an empty directory cache.
func NewDirCache() *DirCache {
	return &DirCache{entries: make(map[string][]Entry)}
}

// Get returns a copy of the cached listing for path.
func (c *DirCache) Get(path string) ([]Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	listing, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	out := make([]Entry, len(listing))
	copy(out, listing)
	return out, true
}

// Contains reports whether a listing is cached for path.
func (c *DirCache) Contains(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[path]
	return ok
}

// Put replaces the listing for path.
func (c *DirCache) Put(path string, listing []Entry) {
	stored := make([]Entry, len(listing))
	copy(stored, listing)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = stored
}

// Invalidate drops the listing for path and for its parent, since adding or
// removing path changes what the parent enumerates.
func (c *DirCache) Invalidate(path string) {
	path = ocipath.StripProtocol(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
	delete(c.entries, ocipath.Parent(path))
}

// InvalidateAll empties the cache.
func (c *DirCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]Entry)
}

// Len returns the number of cached listings.
func (c *DirCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
