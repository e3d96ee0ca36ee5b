package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cancerbero/internal/store/core"
)

func TestClientCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := core.Client{
		ID:           "cli-web",
		Name:         "Web App",
		RedirectURIs: []string{"https://app.example.com/callback"},
		Scopes:       []string{"openid", "profile"},
		Active:       true,
	}
	require.NoError(t, s.Clients().Create(ctx, c))
	require.ErrorIs(t, s.Clients().Create(ctx, c), core.ErrConflict)

	got, err := s.Clients().Get(ctx, "cli-web")
	require.NoError(t, err)
	require.Equal(t, "Web App", got.Name)
	require.True(t, got.HasRedirectURI("https://app.example.com/callback"))
	require.False(t, got.HasRedirectURI("https://app.example.com/otro"))

	_, err = s.Clients().Get(ctx, "no-existe")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestClientListActiveOnly(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Clients().Create(ctx, core.Client{ID: "a", Active: true}))
	require.NoError(t, s.Clients().Create(ctx, core.Client{ID: "b", Active: false}))

	all, err := s.Clients().List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := s.Clients().List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "a", active[0].ID)
}

func TestClientCopiesDoNotAliasState(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Clients().Create(ctx, core.Client{
		ID: "c", RedirectURIs: []string{"https://x"}, Active: true,
	}))

	got, err := s.Clients().Get(ctx, "c")
	require.NoError(t, err)
	got.RedirectURIs[0] = "https://manipulada"

	again, err := s.Clients().Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, "https://x", again.RedirectURIs[0])
}

func TestSubjectLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	sub := core.Subject{ID: "sub-1", Username: "ana", PasswordPHC: "$argon2id$...", Active: true}
	require.NoError(t, s.Subjects().Create(ctx, sub))
	require.ErrorIs(t, s.Subjects().Create(ctx, sub), core.ErrConflict)

	byID, err := s.Subjects().Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, "ana", byID.Username)

	byName, err := s.Subjects().GetByUsername(ctx, "ana")
	require.NoError(t, err)
	require.Equal(t, "sub-1", byName.ID)

	_, err = s.Subjects().GetByUsername(ctx, "bob")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestTOTPCounterOnlyAdvances(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Subjects().UpsertTOTP(ctx, core.TOTPCredential{
		SubjectID: "sub-1", SecretEncrypted: "enc", LastCounter: 100,
	}))

	require.NoError(t, s.Subjects().SetTOTPCounter(ctx, "sub-1", 105))
	c, err := s.Subjects().GetTOTP(ctx, "sub-1")
	require.NoError(t, err)
	require.EqualValues(t, 105, c.LastCounter)

	// retroceso ignorado
	require.NoError(t, s.Subjects().SetTOTPCounter(ctx, "sub-1", 99))
	c, err = s.Subjects().GetTOTP(ctx, "sub-1")
	require.NoError(t, err)
	require.EqualValues(t, 105, c.LastCounter)

	require.ErrorIs(t, s.Subjects().SetTOTPCounter(ctx, "sin-totp", 1), core.ErrNotFound)
}

func TestHardwareKeys(t *testing.T) {
	ctx := context.Background()
	s := New()

	k := core.HardwareKey{SubjectID: "sub-1", CredentialID: []byte("cred-1"), Label: "yubikey"}
	require.NoError(t, s.Subjects().AddHardwareKey(ctx, k))
	require.ErrorIs(t, s.Subjects().AddHardwareKey(ctx, k), core.ErrConflict)

	keys, err := s.Subjects().ListHardwareKeys(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, s.Subjects().SetHardwareKeySignCount(ctx, "sub-1", []byte("cred-1"), 42))
	keys, _ = s.Subjects().ListHardwareKeys(ctx, "sub-1")
	require.EqualValues(t, 42, keys[0].SignCount)

	err = s.Subjects().SetHardwareKeySignCount(ctx, "sub-1", []byte("otra"), 1)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestLockoutRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	// sin registro: zero value, sin error
	l, err := s.Subjects().GetLockout(ctx, "sub-1")
	require.NoError(t, err)
	require.Zero(t, l.Failures)
	require.False(t, l.Locked(time.Now()))

	until := time.Now().Add(10 * time.Minute)
	require.NoError(t, s.Subjects().PutLockout(ctx, core.Lockout{
		SubjectID: "sub-1", Failures: 5, WindowStart: time.Now(), LockedUntil: until,
	}))

	l, err = s.Subjects().GetLockout(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, 5, l.Failures)
	require.True(t, l.Locked(time.Now()))

	require.NoError(t, s.Subjects().ClearLockout(ctx, "sub-1"))
	l, _ = s.Subjects().GetLockout(ctx, "sub-1")
	require.Zero(t, l.Failures)
}

func TestGrantCoverage(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Grants().Get(ctx, "sub-1", "cli-1")
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Grants().Put(ctx, core.Grant{
		SubjectID: "sub-1", ClientID: "cli-1", Scopes: []string{"openid", "profile"},
	}))

	g, err := s.Grants().Get(ctx, "sub-1", "cli-1")
	require.NoError(t, err)
	require.True(t, g.Covers([]string{"openid"}))
	require.True(t, g.Covers([]string{"openid", "profile"}))
	require.False(t, g.Covers([]string{"openid", "email"}))
}
