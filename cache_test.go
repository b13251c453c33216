package neptunevk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheEntry struct {
	value int
}

func TestVulkanCacheGetOrEmplace(t *testing.T) {
	cache := NewVulkanCache[cacheEntry]()

	created := 0
	make1 := func() (*cacheEntry, error) {
		created++
		return &cacheEntry{value: 7}, nil
	}

	first, err := cache.GetOrEmplace(42, make1)
	require.NoError(t, err)
	second, err := cache.GetOrEmplace(42, make1)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, created)
}

func TestVulkanCachePromotion(t *testing.T) {
	cache := NewVulkanCache[cacheEntry]()
	entry, err := cache.GetOrEmplace(1, func() (*cacheEntry, error) {
		return &cacheEntry{value: 1}, nil
	})
	require.NoError(t, err)

	// Entry lives on the write side until promotion, and stays identical
	// afterwards.
	assert.Same(t, entry, cache.Find(1))
	cache.MoveToReadOnly()
	assert.Same(t, entry, cache.Find(1))

	again, err := cache.GetOrEmplace(1, func() (*cacheEntry, error) {
		t.Fatal("promoted entry must not be rebuilt")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, entry, again)
}

func TestVulkanCacheInsertRace(t *testing.T) {
	cache := NewVulkanCache[cacheEntry]()
	a := &cacheEntry{value: 1}
	b := &cacheEntry{value: 2}
	assert.Same(t, a, cache.Insert(5, a))
	// Second insert loses and gets the winner back.
	assert.Same(t, a, cache.Insert(5, b))
}

func TestTempHashMapTwoGenerationEviction(t *testing.T) {
	destroyed := []int{}
	m := NewTempHashMap[cacheEntry](func(e *cacheEntry) {
		destroyed = append(destroyed, e.value)
	})

	m.Emplace(1, &cacheEntry{value: 1})
	m.Emplace(2, &cacheEntry{value: 2})

	// First rotation: both entries age but survive.
	m.BeginFrame()
	assert.Empty(t, destroyed)

	// Touching entry 1 refreshes it; entry 2 stays aged.
	require.NotNil(t, m.Request(1))

	// Second rotation: the untouched entry dies, the touched one ages.
	m.BeginFrame()
	assert.Equal(t, []int{2}, destroyed)
	require.NotNil(t, m.Request(1))

	// Two more rotations with no touch in between: 1 ages, then dies too.
	m.BeginFrame()
	m.BeginFrame()
	assert.Contains(t, destroyed, 1)
}

func TestTempHashMapRequestMiss(t *testing.T) {
	m := NewTempHashMap[cacheEntry](nil)
	assert.Nil(t, m.Request(99))
}

func TestHasherDeterminism(t *testing.T) {
	a := NewHasher().U32(1).U64(2).Str("three").Bool(true).Get()
	b := NewHasher().U32(1).U64(2).Str("three").Bool(true).Get()
	c := NewHasher().U32(1).U64(2).Str("three").Bool(false).Get()
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestStockSamplerInfoDistinct(t *testing.T) {
	seen := map[uint64]StockSampler{}
	for stock := StockSampler(0); stock < StockSamplerCount; stock++ {
		info := stockSamplerInfo(stock)
		h := info.hash()
		if prev, ok := seen[h]; ok {
			// Nearest and point stock samplers intentionally alias.
			prevInfo := stockSamplerInfo(prev)
			assert.Equal(t, prevInfo, info)
			continue
		}
		seen[h] = stock
	}
	assert.GreaterOrEqual(t, len(seen), 4)
}
