package config

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestDefaultsValidate(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, "memory", c.Cache.Kind)
	require.Equal(t, "15m", c.Hardening.Nonce.TTL)
	require.Equal(t, "10m", c.OIDC.CodeTTL)
	require.Equal(t, 5, c.Hardening.Rate.Authentication.Limit)
}

func TestValidateRejectsIncoherentKnobs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"duracion invalida", func(c *Config) { c.Token.AccessTTL = "quince minutos" }},
		{"kid activo ausente", func(c *Config) {
			c.Token.Keys = map[string]string{"k1": testKey(t)}
			c.Token.ActiveKID = "k2"
		}},
		{"clave corta", func(c *Config) {
			c.Token.Keys = map[string]string{"k1": base64.RawURLEncoding.EncodeToString([]byte("short"))}
			c.Token.ActiveKID = "k1"
		}},
		{"ttl de tier creciente", func(c *Config) {
			c.Tiers.TTL.T4 = "5m"
			c.Tiers.TTL.T5 = "6h"
		}},
		{"accion desconocida", func(c *Config) { c.Hardening.Rate.Global.Action = "banhammer" }},
		{"risk threshold fuera de rango", func(c *Config) { c.WebSession.RiskThreshold = 1.5 }},
		{"postgres sin dsn", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"redis sin addr", func(c *Config) { c.Cache.Kind = "redis" }},
		{"guardian http sin url", func(c *Config) { c.Guardian.Kind = "http" }},
		{"velocidad geo nula", func(c *Config) { c.Hardening.Geo.MaxSpeedKmh = -10 }},
		{"secretbox de 16 bytes", func(c *Config) {
			c.Security.SecretBoxMasterKey = base64.RawURLEncoding.EncodeToString(make([]byte, 16))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	key := testKey(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  addr: ":9999"
token:
  issuer: "https://auth.example.com"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("SERVER_ADDR", ":7777")
	t.Setenv("TOKEN_ACTIVE_KID", "2026-08")
	t.Setenv("TOKEN_KEYS", "2026-08="+key)
	t.Setenv("WEBSESSION_RISK_THRESHOLD", "0.5")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7777", c.Server.Addr, "env pisa al YAML")
	require.Equal(t, "https://auth.example.com", c.Token.Issuer)
	require.Equal(t, "2026-08", c.Token.ActiveKID)
	require.Contains(t, c.Token.Keys, "2026-08")
	require.InDelta(t, 0.5, c.WebSession.RiskThreshold, 1e-9)
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - ]["), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestDurFallback(t *testing.T) {
	require.Equal(t, int64(0), int64(Dur("", 0)))
	require.Equal(t, "5m0s", Dur("5m", 0).String())
	require.Equal(t, "1s", Dur("garbage", 1e9).String())
}
