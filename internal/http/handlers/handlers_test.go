package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cancerbero/internal/cache"
	"github.com/dropDatabas3/cancerbero/internal/hardening"
	"github.com/dropDatabas3/cancerbero/internal/security/password"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/store/memory"
	"github.com/dropDatabas3/cancerbero/internal/tiered"
	"github.com/dropDatabas3/cancerbero/internal/token"
	"github.com/dropDatabas3/cancerbero/internal/websession"
)

const (
	testUser = "alice@example.com"
	testPass = "correct horse battery staple"
)

func testCodec(t *testing.T) *token.Codec {
	t.Helper()
	ring, err := token.NewKeyRing("k1", map[string][]byte{"k1": bytes.Repeat([]byte{0x42}, 32)})
	require.NoError(t, err)
	c, err := token.New(token.Config{Issuer: "https://auth.example.com", Audience: "cancerbero-api", Ring: ring})
	require.NoError(t, err)
	return c
}

func testAuthenticator(t *testing.T) *tiered.Authenticator {
	t.Helper()
	subjects := memory.New().Subjects()
	phc, err := password.Hash(password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}, testPass)
	require.NoError(t, err)
	require.NoError(t, subjects.Create(context.Background(), core.Subject{
		ID:          "sub-alice",
		Username:    testUser,
		PasswordPHC: phc,
		Active:      true,
	}))
	a, err := tiered.New(tiered.Config{
		Subjects: subjects,
		Codec:    testCodec(t),
		RPID:     "auth.example.com",
		Origins:  []string{"https://auth.example.com"},
	})
	require.NoError(t, err)
	return a
}

func postTier(t *testing.T, a *tiered.Authenticator, codec *token.Codec, tier string, body any) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/v1/auth/tier/{tier}", NewTierHandler(a, codec))

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/tier/"+tier, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTierHandlerPasswordOK(t *testing.T) {
	codec := testCodec(t)
	rec := postTier(t, testAuthenticator(t), codec, "2", map[string]string{
		"username": testUser,
		"password": testPass,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res tierResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Tier)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.NotEmpty(t, res.Token)

	vr := codec.Validate(context.Background(), res.Token, token.Context{})
	require.True(t, vr.Valid, vr.Reason)
	assert.Equal(t, testUser, vr.Subject)
	assert.Equal(t, 2, vr.Tier)
}

func TestTierHandlerWrongPassword(t *testing.T) {
	rec := postTier(t, testAuthenticator(t), testCodec(t), "2", map[string]string{
		"username": testUser,
		"password": "nope",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var res tierResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.OK)
	assert.Empty(t, res.Token)
}

func TestTierHandlerMissingCredentials(t *testing.T) {
	rec := postTier(t, testAuthenticator(t), testCodec(t), "2", map[string]string{
		"username": testUser,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTierHandlerUnknownTier(t *testing.T) {
	rec := postTier(t, testAuthenticator(t), testCodec(t), "9", map[string]string{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTierHandlerSkipRequiresPrevious(t *testing.T) {
	// T3 sin bearer previo: el prerequisito corta antes de mirar credenciales.
	rec := postTier(t, testAuthenticator(t), testCodec(t), "3", map[string]string{
		"username":  testUser,
		"totp_code": "123456",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	var res tierResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, strings.HasPrefix(res.Reason, "requires_t"))
}

func TestTierHandlerRejectsUnknownFields(t *testing.T) {
	a := testAuthenticator(t)
	r := chi.NewRouter()
	r.Post("/v1/auth/tier/{tier}", NewTierHandler(a, testCodec(t)))

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/tier/2",
		strings.NewReader(`{"username":"x","sorpresa":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTierStatus(t *testing.T) {
	cases := map[string]int{
		tiered.ReasonMissingCredentials: http.StatusBadRequest,
		tiered.ReasonRateLimited:        http.StatusTooManyRequests,
		tiered.ReasonAccountLocked:      http.StatusLocked,
		tiered.ReasonPolicyBlocked:      http.StatusForbidden,
		tiered.ReasonInternal:           http.StatusInternalServerError,
		tiered.RequiresTier(2):          http.StatusForbidden,
		tiered.ReasonInvalidPassword:    http.StatusUnauthorized,
		"algo_nuevo":                    http.StatusUnauthorized,
	}
	for reason, want := range cases {
		assert.Equal(t, want, tierStatus(reason), reason)
	}
}

func challengeManager(limit int) *hardening.Manager {
	return hardening.NewManager(hardening.Config{
		NonceTTL:         time.Minute,
		NonceMaxPerOwner: 8,
		Rules: []hardening.Rule{{
			Name:   hardening.RuleChallenge,
			Limit:  limit,
			Window: time.Minute,
			Action: hardening.ActionThrottle,
		}},
	})
}

func TestChallengeHandler(t *testing.T) {
	h := NewChallengeHandler(challengeManager(10), time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/challenge?username="+testUser, nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res challengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.Nonce)
	assert.NotEmpty(t, res.Challenge)
	assert.Equal(t, int64(60), res.ExpiresIn)
}

func TestChallengeHandlerRateLimited(t *testing.T) {
	h := NewChallengeHandler(challengeManager(1), time.Minute)

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/v1/auth/challenge", nil)
		req.RemoteAddr = "10.1.1.1:4444"
		rec := httptest.NewRecorder()
		h(rec, req)
		assert.Equal(t, want, rec.Code, "request %d", i)
		if want == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
}

// brokenCounter simula el backend de conteo caído.
type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Duration) (int, error) {
	return 0, errors.New("backend de conteo caído")
}

func (brokenCounter) Peek(context.Context, string, time.Duration) (int, error) {
	return 0, errors.New("backend de conteo caído")
}

func (brokenCounter) Reset(context.Context, string) error {
	return errors.New("backend de conteo caído")
}

func TestChallengeHandlerCounterDownFailsClosed(t *testing.T) {
	m := hardening.NewManager(hardening.Config{
		NonceTTL: time.Minute,
		Counter:  brokenCounter{},
		Rules: []hardening.Rule{{
			Name:   hardening.RuleChallenge,
			Limit:  10,
			Window: time.Minute,
			Action: hardening.ActionThrottle,
		}},
	})
	h := NewChallengeHandler(m, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/challenge", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	// sin conteo no hay nonce: el handler se cierra en vez de emitir
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 0, m.Nonces.Len())
}

func TestChallengeNonceBoundToCompleteEndpoint(t *testing.T) {
	m := challengeManager(10)
	h := NewChallengeHandler(m, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/challenge?username="+testUser, nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res challengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	// el nonce sólo sirve en el endpoint que lo consume, y una sola vez
	ok, reason := m.Nonces.Validate(res.Nonce, testUser, "/v1/auth/challenge")
	assert.False(t, ok)
	assert.Equal(t, hardening.NonceMismatch, reason)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/challenge?username="+testUser, nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	ok, reason = m.Nonces.Validate(res.Nonce, testUser, websession.CompleteEndpoint)
	assert.True(t, ok, reason)
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	c, err := cache.New(cache.Config{Kind: "memory"})
	require.NoError(t, err)
	h := NewReadyzHandler(memory.New(), c)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Ready bool `json:"ready"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Ready)
}

func TestWriteWSError(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{websession.ErrSessionNotFound, http.StatusNotFound, "invalid_session"},
		{websession.ErrSessionExpired, http.StatusGone, "session_expired"},
		{websession.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{websession.ErrNoCredentials, http.StatusBadRequest, "no_credentials"},
		{websession.ErrAssertionFailed, http.StatusUnauthorized, "invalid_assertion"},
		{websession.ErrRiskTooHigh, http.StatusForbidden, "risk_too_high"},
		{websession.ErrRequestBlocked, http.StatusForbidden, "request_blocked"},
		{websession.ErrPolicyUnavailable, http.StatusServiceUnavailable, "policy_unavailable"},
		{websession.ErrPKCEFailed, http.StatusBadRequest, "invalid_grant"},
		{errors.New("otra cosa"), http.StatusInternalServerError, "server_error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeWSError(rec, httptest.NewRequest(http.MethodPost, "/", nil), tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err)

		var body apiError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.code, body.Error, tc.err)
	}
}
