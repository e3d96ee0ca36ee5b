package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTicksUntilCancel(t *testing.T) {
	s := New(nil)
	var ticks atomic.Int64
	s.Register("contador", 10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run no retornó tras cancelar")
	}
}

func TestTaskErrorDoesNotStopTheLoop(t *testing.T) {
	s := New(nil)
	var ticks atomic.Int64
	s.Register("fallona", 10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("se rompió")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestPanicInOneTaskLeavesOthersRunning(t *testing.T) {
	s := New(nil)
	var sanos atomic.Int64
	s.Register("explosiva", 10*time.Millisecond, func(ctx context.Context) error {
		panic("boom")
	})
	s.Register("sana", 10*time.Millisecond, func(ctx context.Context) error {
		sanos.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return sanos.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestRegisterRejectsBadTasks(t *testing.T) {
	s := New(nil)
	s.Register("sin intervalo", 0, func(ctx context.Context) error { return nil })
	s.Register("sin func", time.Second, nil)
	s.Register("buena", time.Second, func(ctx context.Context) error { return nil })
	assert.Equal(t, []string{"buena"}, s.Names())
}
