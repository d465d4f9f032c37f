package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fjall-rs/value-log/internal/cache"
)

func TestPutGet(t *testing.T) {
	c := cache.New(1<<20, 4)
	key := cache.Key{Tenant: "t1", SegmentID: 1, Offset: 10}

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, []byte("value"))
	v, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), v)
}

func TestDistinctTenantsDoNotCollide(t *testing.T) {
	c := cache.New(1<<20, 4)
	k1 := cache.Key{Tenant: "a", SegmentID: 1, Offset: 0}
	k2 := cache.Key{Tenant: "b", SegmentID: 1, Offset: 0}

	c.Put(k1, []byte("from-a"))
	_, ok := c.Get(k2)
	assert.False(t, ok)
}

func TestEvictionRespectsByteBudget(t *testing.T) {
	c := cache.New(1, 1) // ~1 byte total budget, single shard
	for i := 0; i < 100; i++ {
		c.Put(cache.Key{Tenant: "t", SegmentID: uint64(i), Offset: 0}, []byte("0123456789"))
	}

	hits := 0
	for i := 0; i < 100; i++ {
		if _, ok := c.Get(cache.Key{Tenant: "t", SegmentID: uint64(i), Offset: 0}); ok {
			hits++
		}
	}
	assert.Less(t, hits, 100, "a tiny byte budget must evict most entries")
}

func TestPurgeSegmentRemovesOnlyThatSegment(t *testing.T) {
	c := cache.New(1<<20, 4)
	k1 := cache.Key{Tenant: "t", SegmentID: 1, Offset: 0}
	k2 := cache.Key{Tenant: "t", SegmentID: 2, Offset: 0}

	c.Put(k1, []byte("seg1"))
	c.Put(k2, []byte("seg2"))

	c.PurgeSegment(1)

	_, ok1 := c.Get(k1)
	_, ok2 := c.Get(k2)
	assert.False(t, ok1)
	assert.True(t, ok2)
}
