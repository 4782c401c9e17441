package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keyrelay-go/internal/token"
)

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
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	c := NewCache(ttl)
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	c.now = clk.Now
	return c, clk
}

func TestCachePeekHitAndExpiry(t *testing.T) {
	t.Parallel()
	c, clk := newTestCache(time.Minute)

	c.Put("krt-secret", token.Record{ID: "tok-1"})

	got, ok := c.Peek("krt-secret")
	require.True(t, ok)
	require.Equal(t, "tok-1", got.ID)

	clk.Advance(time.Minute)
	_, ok = c.Peek("krt-secret")
	require.True(t, ok, "entry at exactly TTL is still fresh")

	clk.Advance(time.Millisecond)
	_, ok = c.Peek("krt-secret")
	require.False(t, ok)
	require.Equal(t, 0, c.Len(), "stale entry evicted on lookup")
}

func TestCacheMissUnknownKey(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(time.Minute)

	_, ok := c.Peek("never-stored")
	require.False(t, ok)
}

func TestCacheFlushAndInvalidate(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(time.Minute)

	c.Put("a", token.Record{ID: "tok-a"})
	c.Put("b", token.Record{ID: "tok-b"})
	require.Equal(t, 2, c.Len())

	c.Invalidate("a")
	require.Equal(t, 1, c.Len())

	require.Equal(t, 1, c.Flush())
	require.Equal(t, 0, c.Len())
}

func TestCacheSweepDropsOnlyExpired(t *testing.T) {
	t.Parallel()
	c, clk := newTestCache(time.Minute)

	c.Put("old", token.Record{ID: "tok-old"})
	clk.Advance(45 * time.Second)
	c.Put("young", token.Record{ID: "tok-young"})
	clk.Advance(30 * time.Second)

	c.Sweep()
	require.Equal(t, 1, c.Len())
	_, ok := c.Peek("young")
	require.True(t, ok)
}
