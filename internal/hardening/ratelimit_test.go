package hardening

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cancerbero/internal/rate"
)

type fakeCounter struct {
	hits int
	err  error
}

func (f *fakeCounter) Incr(context.Context, string, time.Duration) (int, error) {
	return f.hits, f.err
}
func (f *fakeCounter) Peek(context.Context, string, time.Duration) (int, error) {
	return f.hits, f.err
}
func (f *fakeCounter) Reset(context.Context, string) error { return nil }

func authRule() Rule {
	return Rule{Name: RuleAuthentication, Limit: 5, Window: time.Minute, Burst: 2, Action: ActionBlock}
}

func TestRateLimiterWindowSemantics(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Counter: rate.NewMemoryCounter(),
		Rules:   []Rule{authRule()},
	})
	ctx := context.Background()

	// 1..5 permitidos
	for i := 1; i <= 5; i++ {
		dec, err := rl.Check(ctx, "10.0.0.1", RuleAuthentication)
		require.NoError(t, err)
		assert.Equal(t, ActionAllow, dec.Action, "request %d", i)
	}

	// 6 y 7 caen en el burst: throttle
	for i := 6; i <= 7; i++ {
		dec, err := rl.Check(ctx, "10.0.0.1", RuleAuthentication)
		require.NoError(t, err)
		assert.Equal(t, ActionThrottle, dec.Action, "request %d", i)
		assert.Equal(t, "burst", dec.Reason)
	}

	// 8 supera limit+burst: aplica la acción de la regla
	dec, err := rl.Check(ctx, "10.0.0.1", RuleAuthentication)
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, dec.Action)
	assert.Equal(t, "rate_exceeded", dec.Reason)
	assert.Greater(t, dec.RetryAfter, time.Duration(0))

	// otro identificador no se ve afectado
	dec, err = rl.Check(ctx, "10.0.0.2", RuleAuthentication)
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, dec.Action)
}

func TestRateLimiterWhitelistBypass(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Counter:   &fakeCounter{hits: 9999},
		Rules:     []Rule{authRule()},
		Whitelist: []string{"192.0.2.10"},
	})

	dec, err := rl.Check(context.Background(), "192.0.2.10", RuleAuthentication)
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, dec.Action)
}

func TestRateLimiterUnknownRule(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Counter: &fakeCounter{hits: 1}})
	_, err := rl.Check(context.Background(), "x", "no-existe")
	require.Error(t, err)
}

func TestRateLimiterCounterError(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Counter: &fakeCounter{err: errors.New("redis caído")},
		Rules:   []Rule{authRule()},
	})
	_, err := rl.Check(context.Background(), "x", RuleAuthentication)
	require.Error(t, err)
}

func TestRateLimiterProgressiveEscalation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{hits: 99} // siempre por encima de limit+burst
	rl := NewRateLimiter(RateLimiterConfig{
		Counter:              counter,
		Rules:                []Rule{{Name: RuleBiometric, Limit: 3, Window: 5 * time.Minute, Burst: 0, Action: ActionBlock}},
		ProgressivePenalties: true,
		BlockBase:            time.Minute,
		BlockMax:             4 * time.Minute,
	})
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	// primera ofensa: pena base
	dec, err := rl.Check(ctx, "dev-1", RuleBiometric)
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, dec.Action)
	assert.Equal(t, time.Minute, dec.RetryAfter)

	// con el bloqueo vigente no se vuelve a contar
	now = now.Add(30 * time.Second)
	dec, err = rl.Check(ctx, "dev-1", RuleBiometric)
	require.NoError(t, err)
	assert.Equal(t, "blocked", dec.Reason)

	// segunda ofensa tras expirar: se duplica
	now = now.Add(2 * time.Minute)
	dec, err = rl.Check(ctx, "dev-1", RuleBiometric)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, dec.RetryAfter)

	// tercera: 4m (el techo)
	now = now.Add(3 * time.Minute)
	dec, err = rl.Check(ctx, "dev-1", RuleBiometric)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Minute, dec.RetryAfter)

	// cuarta: sigue en el techo
	now = now.Add(5 * time.Minute)
	dec, err = rl.Check(ctx, "dev-1", RuleBiometric)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Minute, dec.RetryAfter)
}

func TestRateLimiterWithoutProgressivePenalties(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{
		Counter:   &fakeCounter{hits: 99},
		Rules:     []Rule{authRule()},
		BlockBase: time.Minute,
		BlockMax:  time.Hour,
	})
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec, err := rl.Check(ctx, "ip", RuleAuthentication)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, dec.RetryAfter, "ofensa %d", i+1)
		now = now.Add(2 * time.Minute)
	}
}

func TestRateLimiterResetClearsBlock(t *testing.T) {
	counter := rate.NewMemoryCounter()
	rl := NewRateLimiter(RateLimiterConfig{
		Counter:   counter,
		Rules:     []Rule{{Name: RuleAuthentication, Limit: 1, Window: time.Minute, Burst: 0, Action: ActionBlock}},
		BlockBase: time.Hour,
	})
	ctx := context.Background()

	_, err := rl.Check(ctx, "alice", RuleAuthentication)
	require.NoError(t, err)
	dec, err := rl.Check(ctx, "alice", RuleAuthentication)
	require.NoError(t, err)
	require.Equal(t, ActionBlock, dec.Action)

	require.NoError(t, rl.Reset(ctx, "alice", RuleAuthentication))

	dec, err = rl.Check(ctx, "alice", RuleAuthentication)
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, dec.Action)
}

func TestRateLimiterSweepForgetsOldBlocks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{
		Counter:   &fakeCounter{hits: 99},
		Rules:     []Rule{authRule()},
		BlockBase: time.Minute,
		BlockMax:  10 * time.Minute,
	})
	rl.now = func() time.Time { return now }

	_, err := rl.Check(context.Background(), "viejo", RuleAuthentication)
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	assert.Equal(t, 1, rl.Sweep())
	assert.Zero(t, rl.Sweep())
}
