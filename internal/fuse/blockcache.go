package fuse

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultReadBlockSize is the unit a mount fetches and caches reads in.
const DefaultReadBlockSize int64 = 1 << 20

// blockKey identifies one block of one version of an object. Keying on the
// etag means an overwritten object never serves stale blocks.
type blockKey struct {
	path  string
	etag  string
	index int64
}

type fetchFunc func(ctx context.Context, start, end int64) ([]byte, error)

// BlockCache keeps fixed size blocks of recently read objects.
type BlockCache struct {
	blocks    *lru.TwoQueueCache
	blockSize int64
}

// NewBlockCache creates a cache holding up to n blocks of blockSize bytes.
func NewBlockCache(n int, blockSize int64) (*BlockCache, error) {
	if blockSize <= 0 {
		blockSize = DefaultReadBlockSize
	}
	blocks, err := lru.New2Q(n)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}
	return &BlockCache{blocks: blocks, blockSize: blockSize}, nil
}

// ReadAt returns up to n bytes at off of an object of the given size,
// fetching missing blocks with fetch.
func (c *BlockCache) ReadAt(ctx context.Context, path, etag string, size, off int64, n int, fetch fetchFunc) ([]byte, error) {
	if off >= size || n <= 0 {
		return []byte{}, nil
	}
	end := off + int64(n)
	if end > size {
		end = size
	}

	out := make([]byte, 0, end-off)
	for idx := off / c.blockSize; idx*c.blockSize < end; idx++ {
		block, err := c.block(ctx, blockKey{path: path, etag: etag, index: idx}, size, fetch)
		if err != nil {
			return nil, err
		}
		start := idx * c.blockSize
		lo, hi := int64(0), int64(len(block))
		if off > start {
			lo = off - start
		}
		if end-start < hi {
			hi = end - start
		}
		if lo >= hi {
			break
		}
		out = append(out, block[lo:hi]...)
	}
	return out, nil
}

func (c *BlockCache) block(ctx context.Context, key blockKey, size int64, fetch fetchFunc) ([]byte, error) {
	if v, ok := c.blocks.Get(key); ok {
		return v.([]byte), nil
	}
	start := key.index * c.blockSize
	end := start + c.blockSize
	if end > size {
		end = size
	}
	data, err := fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	c.blocks.Add(key, data)
	return data, nil
}

// Invalidate drops every cached block of path.
func (c *BlockCache) Invalidate(path string) {
	for _, k := range c.blocks.Keys() {
		if k.(blockKey).path == path {
			c.blocks.Remove(k)
		}
	}
}

// Len returns the number of cached blocks.
func (c *BlockCache) Len() int {
	return c.blocks.Len()
}
