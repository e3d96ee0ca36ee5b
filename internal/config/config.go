package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/cancerbero/internal/observability/logger"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Logging logger.Config `yaml:"logging"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			MinConns        int    `yaml:"min_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Token struct {
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
		// ActiveKID firma; Keys resuelve cualquier kid conocido (rotación).
		ActiveKID string            `yaml:"active_kid"`
		Keys      map[string]string `yaml:"keys"` // kid -> base64url(secreto)
		AccessTTL string            `yaml:"access_ttl"`
		// Validación (pipeline de 7 pasos)
		ExpiryGrace string `yaml:"expiry_grace"` // margen tras exp
		ClockSkew   string `yaml:"clock_skew"`   // iat en el futuro
		MaxAge      string `yaml:"max_age"`      // edad máxima aceptada
		Cache       struct {
			Size int    `yaml:"size"`
			TTL  string `yaml:"ttl"`
		} `yaml:"cache"`
		// Paso 7: colaborador de políticas sobre validación. Fail-closed
		// salvo que fail_open lo relaje explícitamente.
		Policy struct {
			Enabled  bool   `yaml:"enabled"`
			FailOpen bool   `yaml:"fail_open"`
			Timeout  string `yaml:"timeout"`
		} `yaml:"policy"`
		RevocationSweep string `yaml:"revocation_sweep"`
	} `yaml:"token"`

	Tiers struct {
		// TTL por tier: T1 el más largo, T5 el más corto.
		TTL struct {
			T1 string `yaml:"t1"`
			T2 string `yaml:"t2"`
			T3 string `yaml:"t3"`
			T4 string `yaml:"t4"`
			T5 string `yaml:"t5"`
		} `yaml:"ttl"`
		Lockout struct {
			MaxFailures int    `yaml:"max_failures"`
			Window      string `yaml:"window"`
			Duration    string `yaml:"duration"`
		} `yaml:"lockout"`
		TOTP struct {
			Digits int `yaml:"digits"`
			Period int `yaml:"period"` // segundos
			Skew   int `yaml:"skew"`   // pasos de tolerancia (±)
		} `yaml:"totp"`
		Hardware struct {
			RPID    string   `yaml:"rp_id"`
			Origins []string `yaml:"origins"`
		} `yaml:"hardware"`
		Biometric struct {
			MinConfidence   float64 `yaml:"min_confidence"`
			RequireLiveness bool    `yaml:"require_liveness"`
		} `yaml:"biometric"`
		// Pre-check del colaborador: fail-open deliberado (disponibilidad).
		PolicyTimeout string `yaml:"policy_timeout"`
	} `yaml:"tiers"`

	Hardening struct {
		Nonce struct {
			TTL         string `yaml:"ttl"`
			MaxPerOwner int    `yaml:"max_per_owner"`
			Sweep       string `yaml:"sweep"`
		} `yaml:"nonce"`

		Rate struct {
			Enabled bool `yaml:"enabled"`
			// memory | redis
			Backend              string   `yaml:"backend"`
			ProgressivePenalties bool     `yaml:"progressive_penalties"`
			BlockBase            string   `yaml:"block_base"` // primer bloqueo
			BlockMax             string   `yaml:"block_max"`  // techo de la escalada
			Whitelist            []string `yaml:"whitelist"`

			Authentication RuleConfig `yaml:"authentication"`
			Challenge      RuleConfig `yaml:"challenge"`
			Biometric      RuleConfig `yaml:"biometric"`
			Global         RuleConfig `yaml:"global"`
		} `yaml:"rate"`

		Analysis struct {
			SuspiciousAgents  []string `yaml:"suspicious_agents"`
			SuspiciousHeaders []string `yaml:"suspicious_headers"`
			HistorySize       int      `yaml:"history_size"` // huellas por IP
			AnomalyThreshold  float64  `yaml:"anomaly_threshold"`
		} `yaml:"analysis"`

		Geo struct {
			MaxSpeedKmh float64 `yaml:"max_speed_kmh"`
		} `yaml:"geo"`

		Events struct {
			Capacity int `yaml:"capacity"`
		} `yaml:"events"`
	} `yaml:"hardening"`

	OIDC struct {
		CodeTTL      string `yaml:"code_ttl"`
		RefreshTTL   string `yaml:"refresh_ttl"`
		DiscoveryTTL string `yaml:"discovery_ttl"`
		// Ante un documento de discovery inválido: abortar (true) o servirlo
		// igualmente (false, sólo dev).
		FailClosed bool `yaml:"fail_closed"`
	} `yaml:"oidc"`

	WebSession struct {
		TTL           string  `yaml:"ttl"`
		RiskThreshold float64 `yaml:"risk_threshold"`
		// Si guardian no responde: false => la sesión falla (fail-closed).
		FailOpen bool   `yaml:"fail_open"`
		Sweep    string `yaml:"sweep"`
	} `yaml:"websession"`

	Guardian struct {
		// noop | http
		Kind    string `yaml:"kind"`
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`
	} `yaml:"guardian"`

	Security struct {
		SecretBoxMasterKey string `yaml:"secretbox_master_key"` // base64(32 bytes), cifra secretos TOTP en reposo
	} `yaml:"security"`

	Metrics struct {
		Enabled   bool   `yaml:"enabled"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metrics"`
}

// RuleConfig describe una regla de rate limiting declarada en YAML.
type RuleConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
	Burst  int    `yaml:"burst"`
	// throttle | block
	Action string `yaml:"action"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default construye una configuración completa sin YAML (tests, dev).
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// FromEnv construye la configuración sin YAML: defaults + variables de
// entorno, con la misma validación que Load.
func FromEnv() (*Config, error) {
	var c Config
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}

	// Token
	if c.Token.AccessTTL == "" {
		c.Token.AccessTTL = "15m"
	}
	if c.Token.ExpiryGrace == "" {
		c.Token.ExpiryGrace = "30s"
	}
	if c.Token.ClockSkew == "" {
		c.Token.ClockSkew = "60s"
	}
	if c.Token.MaxAge == "" {
		c.Token.MaxAge = "24h"
	}
	if c.Token.Cache.Size == 0 {
		c.Token.Cache.Size = 1000
	}
	if c.Token.Cache.TTL == "" {
		c.Token.Cache.TTL = "2m"
	}
	if c.Token.Policy.Timeout == "" {
		c.Token.Policy.Timeout = "2s"
	}
	if c.Token.RevocationSweep == "" {
		c.Token.RevocationSweep = "5m"
	}

	// Tiers: T1 el más largo, T5 el más corto.
	if c.Tiers.TTL.T1 == "" {
		c.Tiers.TTL.T1 = "1h"
	}
	if c.Tiers.TTL.T2 == "" {
		c.Tiers.TTL.T2 = "45m"
	}
	if c.Tiers.TTL.T3 == "" {
		c.Tiers.TTL.T3 = "30m"
	}
	if c.Tiers.TTL.T4 == "" {
		c.Tiers.TTL.T4 = "20m"
	}
	if c.Tiers.TTL.T5 == "" {
		c.Tiers.TTL.T5 = "10m"
	}
	if c.Tiers.Lockout.MaxFailures == 0 {
		c.Tiers.Lockout.MaxFailures = 5
	}
	if c.Tiers.Lockout.Window == "" {
		c.Tiers.Lockout.Window = "15m"
	}
	if c.Tiers.Lockout.Duration == "" {
		c.Tiers.Lockout.Duration = "15m"
	}
	if c.Tiers.TOTP.Digits == 0 {
		c.Tiers.TOTP.Digits = 6
	}
	if c.Tiers.TOTP.Period == 0 {
		c.Tiers.TOTP.Period = 30
	}
	if c.Tiers.TOTP.Skew == 0 {
		c.Tiers.TOTP.Skew = 1
	}
	if c.Tiers.Biometric.MinConfidence == 0 {
		c.Tiers.Biometric.MinConfidence = 0.90
	}
	if c.Tiers.PolicyTimeout == "" {
		c.Tiers.PolicyTimeout = "2s"
	}

	// Hardening
	if c.Hardening.Nonce.TTL == "" {
		c.Hardening.Nonce.TTL = "15m"
	}
	if c.Hardening.Nonce.MaxPerOwner == 0 {
		c.Hardening.Nonce.MaxPerOwner = 64
	}
	if c.Hardening.Nonce.Sweep == "" {
		c.Hardening.Nonce.Sweep = "1m"
	}
	if c.Hardening.Rate.Backend == "" {
		c.Hardening.Rate.Backend = "memory"
	}
	if c.Hardening.Rate.BlockBase == "" {
		c.Hardening.Rate.BlockBase = "1m"
	}
	if c.Hardening.Rate.BlockMax == "" {
		c.Hardening.Rate.BlockMax = "1h"
	}
	applyRuleDefaults(&c.Hardening.Rate.Authentication, 5, "1m", 2, "block")
	applyRuleDefaults(&c.Hardening.Rate.Challenge, 10, "1m", 5, "throttle")
	applyRuleDefaults(&c.Hardening.Rate.Biometric, 3, "5m", 0, "block")
	applyRuleDefaults(&c.Hardening.Rate.Global, 100, "1m", 20, "throttle")
	if len(c.Hardening.Analysis.SuspiciousAgents) == 0 {
		c.Hardening.Analysis.SuspiciousAgents = []string{
			"sqlmap", "nikto", "nessus", "masscan", "nmap", "curl/7.0", "python-requests",
		}
	}
	if len(c.Hardening.Analysis.SuspiciousHeaders) == 0 {
		c.Hardening.Analysis.SuspiciousHeaders = []string{
			"X-Forwarded-Host", "X-Original-URL", "X-Rewrite-URL",
		}
	}
	if c.Hardening.Analysis.HistorySize == 0 {
		c.Hardening.Analysis.HistorySize = 50
	}
	if c.Hardening.Analysis.AnomalyThreshold == 0 {
		c.Hardening.Analysis.AnomalyThreshold = 0.7
	}
	if c.Hardening.Geo.MaxSpeedKmh == 0 {
		c.Hardening.Geo.MaxSpeedKmh = 900 // vuelo comercial
	}
	if c.Hardening.Events.Capacity == 0 {
		c.Hardening.Events.Capacity = 1000
	}

	// OIDC
	if c.OIDC.CodeTTL == "" {
		c.OIDC.CodeTTL = "10m"
	}
	if c.OIDC.RefreshTTL == "" {
		c.OIDC.RefreshTTL = "720h" // 30d
	}
	if c.OIDC.DiscoveryTTL == "" {
		c.OIDC.DiscoveryTTL = "10m"
	}

	// WebSession
	if c.WebSession.TTL == "" {
		c.WebSession.TTL = "10m"
	}
	if c.WebSession.RiskThreshold == 0 {
		c.WebSession.RiskThreshold = 0.7
	}
	if c.WebSession.Sweep == "" {
		c.WebSession.Sweep = "1m"
	}

	// Guardian
	if c.Guardian.Kind == "" {
		c.Guardian.Kind = "noop"
	}
	if c.Guardian.Timeout == "" {
		c.Guardian.Timeout = "2s"
	}

	// Metrics
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "cancerbero"
	}
}

func applyRuleDefaults(r *RuleConfig, limit int, window string, burst int, action string) {
	if r.Limit == 0 {
		r.Limit = limit
	}
	if r.Window == "" {
		r.Window = window
	}
	if r.Burst == 0 && burst != 0 {
		r.Burst = burst
	}
	if r.Action == "" {
		r.Action = action
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvFloat(key string) (float64, bool) {
	if s, ok := getEnvStr(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// parse env of form "k1=v1<sep>k2=v2" into map
func parseKVList(s, sep string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]string{}
	}
	items := strings.Split(s, sep)
	out := make(map[string]string, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		// split at first '='
		if i := strings.IndexRune(it, '='); i > 0 {
			k := strings.TrimSpace(it[:i])
			v := strings.TrimSpace(it[i+1:])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}

func getEnvKVList(key, sep string) (map[string]string, bool) {
	if s, ok := getEnvStr(key); ok {
		return parseKVList(s, sep), true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}

	// LOGGING
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := getEnvStr("LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := getEnvBool("LOG_DEV_MODE"); ok {
		c.Logging.DevMode = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_CONNS"); ok {
		c.Storage.Postgres.MaxConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MIN_CONNS"); ok {
		c.Storage.Postgres.MinConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}
	if v, ok := getEnvStr("CACHE_MEMORY_DEFAULT_TTL"); ok {
		c.Cache.Memory.DefaultTTL = v
	}

	// TOKEN
	if v, ok := getEnvStr("TOKEN_ISSUER"); ok {
		c.Token.Issuer = v
	}
	if v, ok := getEnvStr("TOKEN_AUDIENCE"); ok {
		c.Token.Audience = v
	}
	if v, ok := getEnvStr("TOKEN_ACTIVE_KID"); ok {
		c.Token.ActiveKID = v
	}
	// TOKEN_KEYS="k1=base64;k2=base64"
	if m, ok := getEnvKVList("TOKEN_KEYS", ";"); ok {
		if c.Token.Keys == nil {
			c.Token.Keys = map[string]string{}
		}
		for k, v := range m {
			c.Token.Keys[k] = v
		}
	}
	if v, ok := getEnvStr("TOKEN_ACCESS_TTL"); ok {
		c.Token.AccessTTL = v
	}
	if v, ok := getEnvStr("TOKEN_EXPIRY_GRACE"); ok {
		c.Token.ExpiryGrace = v
	}
	if v, ok := getEnvStr("TOKEN_MAX_AGE"); ok {
		c.Token.MaxAge = v
	}
	if v, ok := getEnvInt("TOKEN_CACHE_SIZE"); ok {
		c.Token.Cache.Size = v
	}
	if v, ok := getEnvStr("TOKEN_CACHE_TTL"); ok {
		c.Token.Cache.TTL = v
	}
	if v, ok := getEnvBool("TOKEN_POLICY_ENABLED"); ok {
		c.Token.Policy.Enabled = v
	}
	if v, ok := getEnvBool("TOKEN_POLICY_FAIL_OPEN"); ok {
		c.Token.Policy.FailOpen = v
	}

	// TIERS
	if v, ok := getEnvInt("LOCKOUT_MAX_FAILURES"); ok {
		c.Tiers.Lockout.MaxFailures = v
	}
	if v, ok := getEnvStr("LOCKOUT_WINDOW"); ok {
		c.Tiers.Lockout.Window = v
	}
	if v, ok := getEnvStr("LOCKOUT_DURATION"); ok {
		c.Tiers.Lockout.Duration = v
	}
	if v, ok := getEnvStr("WEBAUTHN_RP_ID"); ok {
		c.Tiers.Hardware.RPID = v
	}
	if v, ok := getEnvCSV("WEBAUTHN_ORIGINS"); ok {
		c.Tiers.Hardware.Origins = v
	}
	if v, ok := getEnvFloat("BIOMETRIC_MIN_CONFIDENCE"); ok {
		c.Tiers.Biometric.MinConfidence = v
	}

	// HARDENING
	if v, ok := getEnvStr("NONCE_TTL"); ok {
		c.Hardening.Nonce.TTL = v
	}
	if v, ok := getEnvInt("NONCE_MAX_PER_OWNER"); ok {
		c.Hardening.Nonce.MaxPerOwner = v
	}
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Hardening.Rate.Enabled = v
	}
	if v, ok := getEnvStr("RATE_BACKEND"); ok {
		c.Hardening.Rate.Backend = v
	}
	if v, ok := getEnvBool("RATE_PROGRESSIVE_PENALTIES"); ok {
		c.Hardening.Rate.ProgressivePenalties = v
	}
	if v, ok := getEnvCSV("RATE_WHITELIST"); ok {
		c.Hardening.Rate.Whitelist = v
	}
	if v, ok := getEnvFloat("GEO_MAX_SPEED_KMH"); ok {
		c.Hardening.Geo.MaxSpeedKmh = v
	}

	// OIDC
	if v, ok := getEnvStr("OIDC_CODE_TTL"); ok {
		c.OIDC.CodeTTL = v
	}
	if v, ok := getEnvStr("OIDC_REFRESH_TTL"); ok {
		c.OIDC.RefreshTTL = v
	}
	if v, ok := getEnvBool("OIDC_FAIL_CLOSED"); ok {
		c.OIDC.FailClosed = v
	}

	// WEBSESSION
	if v, ok := getEnvStr("WEBSESSION_TTL"); ok {
		c.WebSession.TTL = v
	}
	if v, ok := getEnvFloat("WEBSESSION_RISK_THRESHOLD"); ok {
		c.WebSession.RiskThreshold = v
	}
	if v, ok := getEnvBool("WEBSESSION_FAIL_OPEN"); ok {
		c.WebSession.FailOpen = v
	}

	// GUARDIAN
	if v, ok := getEnvStr("GUARDIAN_KIND"); ok {
		c.Guardian.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("GUARDIAN_BASE_URL"); ok {
		c.Guardian.BaseURL = v
	}
	if v, ok := getEnvStr("GUARDIAN_TOKEN"); ok {
		c.Guardian.Token = v
	}
	if v, ok := getEnvStr("GUARDIAN_TIMEOUT"); ok {
		c.Guardian.Timeout = v
	}

	// SECURITY
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}

	// METRICS
	if v, ok := getEnvBool("METRICS_ENABLED"); ok {
		c.Metrics.Enabled = v
	}
}

// Validate rechaza combinaciones incoherentes antes de arrancar nada.
func (c *Config) Validate() error {
	// Duraciones: todas las strings de duración deben parsear.
	durs := map[string]string{
		"cache.memory.default_ttl":      c.Cache.Memory.DefaultTTL,
		"token.access_ttl":              c.Token.AccessTTL,
		"token.expiry_grace":            c.Token.ExpiryGrace,
		"token.clock_skew":              c.Token.ClockSkew,
		"token.max_age":                 c.Token.MaxAge,
		"token.cache.ttl":               c.Token.Cache.TTL,
		"token.policy.timeout":          c.Token.Policy.Timeout,
		"token.revocation_sweep":        c.Token.RevocationSweep,
		"tiers.ttl.t1":                  c.Tiers.TTL.T1,
		"tiers.ttl.t2":                  c.Tiers.TTL.T2,
		"tiers.ttl.t3":                  c.Tiers.TTL.T3,
		"tiers.ttl.t4":                  c.Tiers.TTL.T4,
		"tiers.ttl.t5":                  c.Tiers.TTL.T5,
		"tiers.lockout.window":          c.Tiers.Lockout.Window,
		"tiers.lockout.duration":        c.Tiers.Lockout.Duration,
		"tiers.policy_timeout":          c.Tiers.PolicyTimeout,
		"hardening.nonce.ttl":           c.Hardening.Nonce.TTL,
		"hardening.nonce.sweep":         c.Hardening.Nonce.Sweep,
		"hardening.rate.block_base":     c.Hardening.Rate.BlockBase,
		"hardening.rate.block_max":      c.Hardening.Rate.BlockMax,
		"oidc.code_ttl":                 c.OIDC.CodeTTL,
		"oidc.refresh_ttl":              c.OIDC.RefreshTTL,
		"oidc.discovery_ttl":            c.OIDC.DiscoveryTTL,
		"websession.ttl":                c.WebSession.TTL,
		"websession.sweep":              c.WebSession.Sweep,
		"guardian.timeout":              c.Guardian.Timeout,
		"rate.authentication.window":    c.Hardening.Rate.Authentication.Window,
		"rate.challenge.window":         c.Hardening.Rate.Challenge.Window,
		"rate.biometric.window":         c.Hardening.Rate.Biometric.Window,
		"rate.global.window":            c.Hardening.Rate.Global.Window,
		"storage.postgres.max_lifetime": c.Storage.Postgres.ConnMaxLifetime,
	}
	for name, s := range durs {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: %s inválido: %w", name, err)
		}
	}

	// Claves de firma: el kid activo tiene que resolverse y cada secreto
	// tiene que ser base64 válido de al menos 32 bytes.
	if len(c.Token.Keys) > 0 {
		if c.Token.ActiveKID == "" {
			return fmt.Errorf("config: token.active_kid vacío con token.keys definido")
		}
		if _, ok := c.Token.Keys[c.Token.ActiveKID]; !ok {
			return fmt.Errorf("config: token.active_kid %q no está en token.keys", c.Token.ActiveKID)
		}
		for kid, sec := range c.Token.Keys {
			raw, err := decodeKey(sec)
			if err != nil {
				return fmt.Errorf("config: token.keys[%s] no es base64 válido: %w", kid, err)
			}
			if len(raw) < 32 {
				return fmt.Errorf("config: token.keys[%s] tiene %d bytes; mínimo 32", kid, len(raw))
			}
		}
	}

	// Tiers: T1 >= T2 >= ... >= T5 (el tier alto vive menos).
	ttls := []string{c.Tiers.TTL.T1, c.Tiers.TTL.T2, c.Tiers.TTL.T3, c.Tiers.TTL.T4, c.Tiers.TTL.T5}
	var prev time.Duration
	for i, s := range ttls {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: tiers.ttl.t%d inválido: %w", i+1, err)
		}
		if d <= 0 {
			return fmt.Errorf("config: tiers.ttl.t%d debe ser > 0", i+1)
		}
		if i > 0 && d > prev {
			return fmt.Errorf("config: tiers.ttl.t%d (%s) mayor que t%d; el TTL decrece con el tier", i+1, s, i)
		}
		prev = d
	}

	if c.Tiers.Lockout.MaxFailures < 1 {
		return fmt.Errorf("config: tiers.lockout.max_failures debe ser >= 1")
	}
	if c.Tiers.Biometric.MinConfidence < 0 || c.Tiers.Biometric.MinConfidence > 1 {
		return fmt.Errorf("config: tiers.biometric.min_confidence fuera de [0,1]")
	}
	if c.WebSession.RiskThreshold < 0 || c.WebSession.RiskThreshold > 1 {
		return fmt.Errorf("config: websession.risk_threshold fuera de [0,1]")
	}
	if c.Hardening.Geo.MaxSpeedKmh <= 0 {
		return fmt.Errorf("config: hardening.geo.max_speed_kmh debe ser > 0")
	}
	if c.Hardening.Nonce.MaxPerOwner < 1 {
		return fmt.Errorf("config: hardening.nonce.max_per_owner debe ser >= 1")
	}

	for name, r := range map[string]RuleConfig{
		"authentication": c.Hardening.Rate.Authentication,
		"challenge":      c.Hardening.Rate.Challenge,
		"biometric":      c.Hardening.Rate.Biometric,
		"global":         c.Hardening.Rate.Global,
	} {
		if r.Limit < 1 {
			return fmt.Errorf("config: hardening.rate.%s.limit debe ser >= 1", name)
		}
		if r.Burst < 0 {
			return fmt.Errorf("config: hardening.rate.%s.burst debe ser >= 0", name)
		}
		if r.Action != "throttle" && r.Action != "block" {
			return fmt.Errorf("config: hardening.rate.%s.action %q no es throttle|block", name, r.Action)
		}
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config: storage.driver=postgres requiere storage.dsn")
		}
	default:
		return fmt.Errorf("config: storage.driver %q no es memory|postgres", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			return fmt.Errorf("config: cache.kind=redis requiere cache.redis.addr")
		}
	default:
		return fmt.Errorf("config: cache.kind %q no es memory|redis", c.Cache.Kind)
	}
	switch c.Hardening.Rate.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: hardening.rate.backend %q no es memory|redis", c.Hardening.Rate.Backend)
	}
	switch c.Guardian.Kind {
	case "noop":
	case "http":
		if strings.TrimSpace(c.Guardian.BaseURL) == "" {
			return fmt.Errorf("config: guardian.kind=http requiere guardian.base_url")
		}
	default:
		return fmt.Errorf("config: guardian.kind %q no es noop|http", c.Guardian.Kind)
	}

	if c.Security.SecretBoxMasterKey != "" {
		raw, err := decodeKey(c.Security.SecretBoxMasterKey)
		if err != nil {
			return fmt.Errorf("config: security.secretbox_master_key no es base64 válido: %w", err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("config: security.secretbox_master_key tiene %d bytes; deben ser 32", len(raw))
		}
	}
	return nil
}

// Dur devuelve una duración ya validada por Validate. Ante una string
// corrupta (p.ej. mutada tras Load) devuelve el fallback.
func Dur(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// decodeKey acepta base64 estándar o URL-safe, con o sin padding.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding, base64.URLEncoding,
		base64.RawStdEncoding, base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("formato base64 no reconocido")
}

// DecodeKey expone decodeKey para el wiring (claves de firma, secretbox).
func DecodeKey(s string) ([]byte, error) { return decodeKey(s) }
