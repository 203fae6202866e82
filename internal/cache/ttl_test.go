package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache() (*TTL[string, int], *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New[string, int](WithClock[string, int](clock.Now)), clock
}

func TestTTL_GetBeforeExpiry(t *testing.T) {
	c, clock := newTestCache()
	c.Set("payment_data_abc", 42, 5*time.Minute)

	clock.Advance(4*time.Minute + 59*time.Second)
	v, ok := c.Get("payment_data_abc")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestTTL_ExpiredEntryIsPurged(t *testing.T) {
	c, clock := newTestCache()
	c.Set("payment_data_abc", 42, 5*time.Minute)

	clock.Advance(5 * time.Minute)
	_, ok := c.Get("payment_data_abc")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTL_Sweep(t *testing.T) {
	c, clock := newTestCache()
	c.Set("short", 1, time.Minute)
	c.Set("long", 2, 10*time.Minute)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestTTL_DeleteAndClear(t *testing.T) {
	c, _ := newTestCache()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestTTL_RunStopsOnCancel(t *testing.T) {
	c := New[string, int]()
	c.Set("gone", 1, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
