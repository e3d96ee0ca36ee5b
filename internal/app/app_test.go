package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cancerbero/internal/config"
	"github.com/dropDatabas3/cancerbero/internal/security/password"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Token.Issuer = "https://auth.example.com"
	cfg.Token.Audience = "cancerbero-api"
	cfg.Token.ActiveKID = "k1"
	cfg.Token.Keys = map[string]string{
		"k1": base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32)),
	}
	cfg.Tiers.Hardware.RPID = "auth.example.com"
	cfg.Tiers.Hardware.Origins = []string{"https://auth.example.com"}
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestAppBoots(t *testing.T) {
	a := newTestApp(t)
	assert.NotNil(t, a.Codec)
	assert.NotNil(t, a.Tiered)
	assert.NotNil(t, a.OIDC)
	assert.NotNil(t, a.Sessions)
	assert.NotNil(t, a.Hardening)
	assert.Contains(t, a.Sched.Names(), "nonce_sweep")
	assert.Contains(t, a.Sched.Names(), "session_sweep")
	assert.Contains(t, a.Sched.Names(), "revocation_sweep")
}

func TestRouterHealthAndDiscovery(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).Router())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/.well-known/openid-configuration")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var doc struct {
		Issuer                string `json:"issuer"`
		AuthorizationEndpoint string `json:"authorization_endpoint"`
		TokenEndpoint         string `json:"token_endpoint"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&doc))
	assert.Equal(t, "https://auth.example.com", doc.Issuer)
	assert.NotEmpty(t, doc.AuthorizationEndpoint)
	assert.NotEmpty(t, doc.TokenEndpoint)
}

func TestRouterTierFlow(t *testing.T) {
	a := newTestApp(t)

	phc, err := password.Hash(password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}, "hunter2 pero largo")
	require.NoError(t, err)
	require.NoError(t, a.Store.Subjects().Create(context.Background(), core.Subject{
		ID:          "sub-1",
		Username:    "alice@example.com",
		PasswordPHC: phc,
		Active:      true,
		CreatedAt:   time.Now(),
	}))

	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	body := bytes.NewReader([]byte(`{"username":"alice@example.com","password":"hunter2 pero largo"}`))
	res, err := http.Post(srv.URL+"/v1/auth/tier/2", "application/json", body)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "no-store", res.Header.Get("Cache-Control"))

	var out struct {
		OK    bool   `json:"ok"`
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.True(t, out.OK)
	assert.NotEmpty(t, out.Token)
}

func TestRouterChallenge(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).Router())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/v1/auth/challenge")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		Nonce     string `json:"nonce"`
		Challenge string `json:"challenge"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.NotEmpty(t, out.Nonce)
	assert.NotEmpty(t, out.Challenge)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run no terminó tras cancelar el contexto")
	}
}
