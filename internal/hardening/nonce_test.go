package hardening

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceSingleUse(t *testing.T) {
	s := NewNonceStore(time.Minute, 8, nil)

	n, err := s.Generate("alice", "/oauth2/token")
	require.NoError(t, err)
	assert.NotEmpty(t, n)

	ok, reason := s.Validate(n, "alice", "/oauth2/token")
	assert.True(t, ok)
	assert.Empty(t, reason)

	// el mismo nonce jamás valida dos veces
	ok, reason = s.Validate(n, "alice", "/oauth2/token")
	assert.False(t, ok)
	assert.Equal(t, NonceUnknown, reason)
}

func TestNonceUnknown(t *testing.T) {
	s := NewNonceStore(time.Minute, 8, nil)
	ok, reason := s.Validate("inventado", "", "")
	assert.False(t, ok)
	assert.Equal(t, NonceUnknown, reason)
}

func TestNonceExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewNonceStore(15*time.Minute, 8, nil)
	s.now = func() time.Time { return now }

	n, err := s.Generate("alice", "/x")
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	ok, reason := s.Validate(n, "alice", "/x")
	assert.False(t, ok)
	assert.Equal(t, NonceExpired, reason)
}

func TestNonceContextMismatchBurnsNonce(t *testing.T) {
	s := NewNonceStore(time.Minute, 8, nil)

	n, err := s.Generate("alice", "/oauth2/token")
	require.NoError(t, err)

	ok, reason := s.Validate(n, "mallory", "/oauth2/token")
	assert.False(t, ok)
	assert.Equal(t, NonceMismatch, reason)

	// el intento fallido lo consumió: ni el dueño legítimo lo puede usar
	ok, reason = s.Validate(n, "alice", "/oauth2/token")
	assert.False(t, ok)
	assert.Equal(t, NonceUnknown, reason)
}

func TestNoncePerOwnerCapEvictsOldest(t *testing.T) {
	s := NewNonceStore(time.Minute, 3, nil)

	var ns []string
	for i := 0; i < 4; i++ {
		n, err := s.Generate("alice", "/x")
		require.NoError(t, err)
		ns = append(ns, n)
	}
	assert.Equal(t, 3, s.Len())

	// el primero fue expulsado por cupo
	ok, reason := s.Validate(ns[0], "alice", "/x")
	assert.False(t, ok)
	assert.Equal(t, NonceUnknown, reason)

	for _, n := range ns[1:] {
		ok, _ := s.Validate(n, "alice", "/x")
		assert.True(t, ok)
	}
}

func TestNonceSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewNonceStore(15*time.Minute, 8, nil)
	s.now = func() time.Time { return now }

	_, err := s.Generate("alice", "/x")
	require.NoError(t, err)
	_, err = s.Generate("bob", "/x")
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	fresh, err := s.Generate("carol", "/x")
	require.NoError(t, err)

	now = now.Add(6 * time.Minute) // alice y bob vencidos, carol no
	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, s.Len())

	ok, _ := s.Validate(fresh, "carol", "/x")
	assert.True(t, ok)
}
