package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("test", time.Minute)

	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))

	got, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, "v1", got)

	ok, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k1"))
	_, err = c.Get(ctx, "k1")
	require.True(t, IsNotFound(err))
}

func TestMemoryMissIsNotFound(t *testing.T) {
	c := NewMemory("", time.Minute)
	_, err := c.Get(context.Background(), "nunca-escrita")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, IsNotFound(err))
}

func TestMemoryTTLExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("", time.Minute)

	require.NoError(t, c.Set(ctx, "efimera", "x", 30*time.Millisecond))
	got, err := c.Get(ctx, "efimera")
	require.NoError(t, err)
	require.Equal(t, "x", got)

	time.Sleep(60 * time.Millisecond)
	_, err = c.Get(ctx, "efimera")
	require.True(t, IsNotFound(err))
}

func TestMemoryNoExpireWithZeroTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("", 50*time.Millisecond)

	require.NoError(t, c.Set(ctx, "fija", "y", 0))
	time.Sleep(120 * time.Millisecond)
	got, err := c.Get(ctx, "fija")
	require.NoError(t, err)
	require.Equal(t, "y", got)
}

func TestMemoryTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("", time.Minute)

	require.NoError(t, c.Set(ctx, "code", "payload", time.Minute))

	got, err := c.Take(ctx, "code")
	require.NoError(t, err)
	require.Equal(t, "payload", got)

	_, err = c.Take(ctx, "code")
	require.True(t, IsNotFound(err))
	_, err = c.Get(ctx, "code")
	require.True(t, IsNotFound(err))
}

func TestMemoryTakeConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("", time.Minute)

	// cada ronda lanza 8 goroutines contra la misma key; siempre gana una
	for round := 0; round < 200; round++ {
		require.NoError(t, c.Set(ctx, "unica", "v", time.Minute))

		var wg sync.WaitGroup
		var wins atomic.Int32
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.Take(ctx, "unica"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, wins.Load(), "ronda %d", round)
	}
}

func TestMemoryPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	a := NewMemory("a", time.Minute)
	b := NewMemory("b", time.Minute)

	require.NoError(t, a.Set(ctx, "k", "de-a", time.Minute))
	_, err := b.Get(ctx, "k")
	require.True(t, IsNotFound(err), "prefijos distintos no comparten datos")
}

func TestMemoryStats(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("", time.Minute)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "otra")

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, "memory", st.Driver)
	require.EqualValues(t, 1, st.Keys)
	require.EqualValues(t, 1, st.Hits)
	require.EqualValues(t, 1, st.Misses)
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	c, err := New(Config{Kind: "memory"})
	require.NoError(t, err)
	st, err := c.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, "memory", st.Driver)
}
