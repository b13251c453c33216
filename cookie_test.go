package neptunevk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCookieMonotonic(t *testing.T) {
	first := NewCookie()
	second := NewCookie()
	assert.Greater(t, second, first)
	assert.GreaterOrEqual(t, second-first, uint64(16))
}

func TestCookieStride(t *testing.T) {
	a := NewCookie()
	b := NewCookie()
	assert.Equal(t, uint64(16), b-a)
	assert.Zero(t, a&0xf, "low bits are reserved for tagging")
}

func TestCookieConcurrentUniqueness(t *testing.T) {
	const workers = 8
	const perWorker = 1000

	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, NewCookie())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, c := range local {
				assert.False(t, seen[c], "cookie %d handed out twice", c)
				seen[c] = true
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}
