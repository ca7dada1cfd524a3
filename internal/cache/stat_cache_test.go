package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatCacheSetAndGet(t *testing.T) {
	sc := NewStatCache(time.Minute)
	sc.Set("b@ns/file.txt", Entry{Name: "b@ns/file.txt", Type: TypeFile, Size: 1024})

	e, ok := sc.Get("b@ns/file.txt")
	require.True(t, ok)
	assert.Equal(t, int64(1024), e.Size)
	assert.Equal(t, 1, sc.Size())

	_, ok = sc.Get("b@ns/missing")
	assert.False(t, ok)
}

func TestStatCacheExpiration(t *testing.T) {
	sc := NewStatCache(50 * time.Millisecond)
	sc.Set("b@ns/f", Entry{Name: "b@ns/f"})
	time.Sleep(120 * time.Millisecond)
	_, ok := sc.Get("b@ns/f")
	assert.False(t, ok)
}

func TestStatCacheDeletePrefix(t *testing.T) {
	sc := NewStatCache(time.Minute)
	sc.Set("b@ns/dir", Entry{Type: TypeDirectory})
	sc.Set("b@ns/dir/a", Entry{})
	sc.Set("b@ns/dir/sub/b", Entry{})
	sc.Set("b@ns/dirty", Entry{})

	sc.DeletePrefix("b@ns/dir")

	_, ok := sc.Get("b@ns/dir")
	assert.False(t, ok)
	_, ok = sc.Get("b@ns/dir/sub/b")
	assert.False(t, ok)
	_, ok = sc.Get("b@ns/dirty")
	assert.True(t, ok)
}

func TestStatCacheFlush(t *testing.T) {
	sc := NewStatCache(time.Minute)
	sc.Set("a", Entry{})
	sc.Set("b", Entry{})
	sc.Delete("a")
	assert.Equal(t, 1, sc.Size())
	sc.Flush()
	assert.Equal(t, 0, sc.Size())
}
