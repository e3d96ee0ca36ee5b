package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixedClock permite mover el tiempo a mano en los tests del contador.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fixedClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fixedClock) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCounter() (*MemoryCounter, *fixedClock) {
	clk := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCounter()
	c.now = clk.now
	return c, clk
}

func TestMemoryCounterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCounter()

	for i := 1; i <= 5; i++ {
		n, err := c.Incr(ctx, "ip:1.2.3.4", time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, n)
		clk.advance(time.Second)
	}

	// 40s después siguen todos dentro de la ventana de 60s
	clk.advance(40 * time.Second)
	n, err := c.Peek(ctx, "ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// a los 61s del primero, ya salieron algunos
	clk.advance(20 * time.Second)
	n, err = c.Peek(ctx, "ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.Less(t, n, 5)
}

func TestMemoryCounterReset(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter()

	_, err := c.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Reset(ctx, "k"))

	n, err := c.Peek(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemoryCounterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter()

	_, _ = c.Incr(ctx, "a", time.Minute)
	_, _ = c.Incr(ctx, "a", time.Minute)
	_, _ = c.Incr(ctx, "b", time.Minute)

	na, _ := c.Peek(ctx, "a", time.Minute)
	nb, _ := c.Peek(ctx, "b", time.Minute)
	require.Equal(t, 2, na)
	require.Equal(t, 1, nb)
}

func TestMemoryCounterGC(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCounter()

	_, _ = c.Incr(ctx, "vieja", time.Minute)
	clk.advance(10 * time.Minute)
	_, _ = c.Incr(ctx, "nueva", time.Minute)

	c.GC(time.Minute)

	c.mu.Lock()
	_, oldKept := c.events["vieja"]
	_, newKept := c.events["nueva"]
	c.mu.Unlock()
	require.False(t, oldKept)
	require.True(t, newKept)
}

func TestMemoryCounterConcurrentIncr(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Incr(ctx, "compartida", time.Minute)
		}()
	}
	wg.Wait()

	n, err := c.Peek(ctx, "compartida", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 50, n)
}

func TestWindowLimiter(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter()
	l := NewWindowLimiter(c, 3, time.Minute)

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, time.Minute, res.RetryAfter)
	require.Zero(t, res.Remaining)
}
