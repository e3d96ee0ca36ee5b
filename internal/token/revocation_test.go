package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cancerbero/internal/cache"
)

func TestRevokeTokenRejectsAndEvictsCache(t *testing.T) {
	c := testCodec(t, nil)
	ctx := context.Background()

	tok, _, err := c.IssueAccess("alice", time.Minute, nil)
	require.NoError(t, err)

	require.True(t, c.Validate(ctx, tok, Context{}).Valid) // queda cacheado
	require.NoError(t, c.RevokeToken(ctx, tok))

	res := c.Validate(ctx, tok, Context{})
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonRevoked, res.Reason)
}

func TestRevokeByJTI(t *testing.T) {
	c := testCodec(t, nil)
	ctx := context.Background()

	tok, _, err := c.IssueAccess("alice", time.Minute, nil)
	require.NoError(t, err)

	res := c.Validate(ctx, tok, Context{})
	require.True(t, res.Valid)

	require.NoError(t, c.RevokeJTI(ctx, res.JTI, time.Time{}))

	res = c.Validate(ctx, tok, Context{})
	assert.Equal(t, ReasonRevoked, res.Reason)
}

func TestRevokeTokenToleratesGarbage(t *testing.T) {
	c := testCodec(t, nil)
	// RFC 7009: revocar nunca revela si el token era válido; tampoco falla
	// por formato. Queda marcado por hash.
	require.NoError(t, c.RevokeToken(context.Background(), "esto no es un jwt"))
}

func TestMemoryRevocationsSweep(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryRevocations()
	m.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, m.Revoke(ctx, "j-viejo", "h-viejo", fixed.Add(-time.Second)))
	require.NoError(t, m.Revoke(ctx, "j-vivo", "", fixed.Add(time.Hour)))
	assert.Equal(t, 3, m.Len())

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, m.Len())

	revoked, err := m.IsRevoked(ctx, "j-vivo", "")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = m.IsRevoked(ctx, "j-viejo", "h-viejo")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestCacheRevocations(t *testing.T) {
	backend, err := cache.New(cache.Config{Kind: "memory"})
	require.NoError(t, err)
	defer backend.Close()

	r := NewCacheRevocations(backend, "")
	ctx := context.Background()

	require.NoError(t, r.Revoke(ctx, "j1", "h1", time.Now().Add(time.Hour)))

	revoked, err := r.IsRevoked(ctx, "j1", "")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = r.IsRevoked(ctx, "", "h1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = r.IsRevoked(ctx, "j2", "h2")
	require.NoError(t, err)
	assert.False(t, revoked)

	// el TTL del backend reemplaza al sweep
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
