// ABOUTME: Tests for the output dedupe cache
// ABOUTME: Validates TTL expiry, size bound, eviction order and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, maxSize)
	c.mu.Lock()
	c.now = clock.Now
	c.mu.Unlock()
	return c, clock
}

func TestCache_Seen(t *testing.T) {
	c, _ := newTestCache(5*time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("k"), "first sighting is new")
	assert.True(t, c.Seen("k"), "second sighting is a duplicate")
	assert.False(t, c.Seen("other"))
}

func TestCache_Seen_Expired(t *testing.T) {
	c, clock := newTestCache(5*time.Minute, 100)
	defer c.Close()

	c.Seen("k")
	clock.Advance(5*time.Minute + time.Second)

	assert.False(t, c.Seen("k"), "expired key counts as new")
	assert.True(t, c.Seen("k"))
}

func TestCache_Eviction(t *testing.T) {
	c, _ := newTestCache(5*time.Minute, 3)
	defer c.Close()

	for i := range 4 {
		c.Seen(fmt.Sprintf("k%d", i))
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("k0"), "oldest key was evicted")
	assert.True(t, c.Seen("k3"))
}

func TestCache_Expire(t *testing.T) {
	c, clock := newTestCache(time.Minute, 100)
	defer c.Close()

	c.Seen("old")
	clock.Advance(50 * time.Second)
	c.Seen("young")
	clock.Advance(20 * time.Second)

	c.expire()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("young"))
}

func TestCache_Concurrent(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("same-key") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load(), "exactly one caller sees the key as new")
}

func TestCache_Close(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}

func TestCache_Defaults(t *testing.T) {
	c := New(0, 0)
	defer c.Close()

	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
}

func TestOutputKey(t *testing.T) {
	a := OutputKey("HOST-1", "ls", "t1", "out")
	assert.Equal(t, a, OutputKey("HOST-1", "ls", "t1", "out"))
	assert.NotEqual(t, a, OutputKey("HOST-2", "ls", "t1", "out"))
	assert.NotEqual(t, a, OutputKey("HOST-1", "ls", "t1", "other"), "new output under a reused timestamp")
	assert.NotEqual(t, OutputKey("a", "bc", "", ""), OutputKey("ab", "c", "", ""))
}
