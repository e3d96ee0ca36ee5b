// Package app es la raíz de composición: construye cada servicio una sola
// vez a partir de la configuración tipada y los inyecta a sus dependientes.
// Nada de estado global de servicios; el único singleton del proceso es el
// logger.
package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/cancerbero/internal/audit"
	"github.com/dropDatabas3/cancerbero/internal/cache"
	"github.com/dropDatabas3/cancerbero/internal/config"
	"github.com/dropDatabas3/cancerbero/internal/guardian"
	"github.com/dropDatabas3/cancerbero/internal/hardening"
	"github.com/dropDatabas3/cancerbero/internal/http/handlers"
	mw "github.com/dropDatabas3/cancerbero/internal/http/middlewares"
	"github.com/dropDatabas3/cancerbero/internal/metrics"
	"github.com/dropDatabas3/cancerbero/internal/observability/logger"
	"github.com/dropDatabas3/cancerbero/internal/oidc"
	"github.com/dropDatabas3/cancerbero/internal/rate"
	"github.com/dropDatabas3/cancerbero/internal/scheduler"
	"github.com/dropDatabas3/cancerbero/internal/security/secretbox"
	"github.com/dropDatabas3/cancerbero/internal/security/totp"
	"github.com/dropDatabas3/cancerbero/internal/store"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/tiered"
	"github.com/dropDatabas3/cancerbero/internal/token"
	"github.com/dropDatabas3/cancerbero/internal/websession"
)

// App agrupa los servicios vivos del proceso.
type App struct {
	Cfg *config.Config
	Log *zap.Logger

	Store    core.Store
	Cache    cache.Client
	Guardian guardian.Client
	Audit    *audit.Trail

	Hardening   *hardening.Manager
	Revocations token.Revoker
	Codec       *token.Codec
	Tiered      *tiered.Authenticator
	OIDC        *oidc.Provider
	Sessions    *websession.Service

	Sched *scheduler.Scheduler

	globalLimiter rate.Limiter
	memCounter    *rate.MemoryCounter
}

// New construye el grafo completo de servicios. El orden sigue las
// dependencias: store/cache/guardian primero, luego hardening y codec,
// al final los servicios que los consumen.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.Named("app")
	a := &App{Cfg: cfg, Log: log}

	st, err := store.Open(ctx, store.Config{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		MaxConns:        cfg.Storage.Postgres.MaxConns,
		MinConns:        cfg.Storage.Postgres.MinConns,
		ConnMaxLifetime: config.Dur(cfg.Storage.Postgres.ConnMaxLifetime, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("app: store: %w", err)
	}
	a.Store = st

	c, err := cache.New(cache.Config{
		Kind:       cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: config.Dur(cfg.Cache.Memory.DefaultTTL, 2*time.Minute),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: cache: %w", err)
	}
	a.Cache = c

	g, err := guardian.New(guardian.Config{
		Kind:    cfg.Guardian.Kind,
		BaseURL: cfg.Guardian.BaseURL,
		Token:   cfg.Guardian.Token,
		Timeout: config.Dur(cfg.Guardian.Timeout, 2*time.Second),
	}, logger.Named("guardian"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: guardian: %w", err)
	}
	a.Guardian = g

	a.Audit = audit.New(logger.Named("audit"))

	counter := a.buildRateCounter()
	a.Hardening = hardening.NewManager(hardening.Config{
		NonceTTL:         config.Dur(cfg.Hardening.Nonce.TTL, 15*time.Minute),
		NonceMaxPerOwner: cfg.Hardening.Nonce.MaxPerOwner,

		Counter:              counter,
		Rules:                buildRules(cfg),
		Whitelist:            cfg.Hardening.Rate.Whitelist,
		ProgressivePenalties: cfg.Hardening.Rate.ProgressivePenalties,
		BlockBase:            config.Dur(cfg.Hardening.Rate.BlockBase, time.Minute),
		BlockMax:             config.Dur(cfg.Hardening.Rate.BlockMax, time.Hour),

		SuspiciousAgents:  cfg.Hardening.Analysis.SuspiciousAgents,
		SuspiciousHeaders: cfg.Hardening.Analysis.SuspiciousHeaders,
		HistorySize:       cfg.Hardening.Analysis.HistorySize,
		AnomalyThreshold:  cfg.Hardening.Analysis.AnomalyThreshold,

		GeoMaxSpeedKmh: cfg.Hardening.Geo.MaxSpeedKmh,
		EventCapacity:  cfg.Hardening.Events.Capacity,

		Guardian:  g,
		EventHook: a.Audit.Security,
		Logger:    logger.Named("hardening"),
	})
	if cfg.Hardening.Rate.Enabled {
		gl := cfg.Hardening.Rate.Global
		a.globalLimiter = rate.NewWindowLimiter(counter,
			gl.Limit+gl.Burst, config.Dur(gl.Window, time.Minute))
	}

	ring, err := a.buildKeyRing()
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Cache.Kind == "redis" {
		a.Revocations = token.NewCacheRevocations(c, "rev")
	} else {
		a.Revocations = token.NewMemoryRevocations()
	}

	codec, err := token.New(token.Config{
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		Ring:     ring,

		AccessTTL:   config.Dur(cfg.Token.AccessTTL, 15*time.Minute),
		ExpiryGrace: config.Dur(cfg.Token.ExpiryGrace, 30*time.Second),
		ClockSkew:   config.Dur(cfg.Token.ClockSkew, time.Minute),
		MaxAge:      config.Dur(cfg.Token.MaxAge, 24*time.Hour),

		CacheSize: cfg.Token.Cache.Size,
		CacheTTL:  config.Dur(cfg.Token.Cache.TTL, 2*time.Minute),

		PolicyEnabled:  cfg.Token.Policy.Enabled,
		PolicyFailOpen: cfg.Token.Policy.FailOpen,
		PolicyTimeout:  config.Dur(cfg.Token.Policy.Timeout, 2*time.Second),

		Revocations: a.Revocations,
		Policy:      g,
		Logger:      logger.Named("token"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: token codec: %w", err)
	}
	a.Codec = codec

	var box *secretbox.Box
	if cfg.Security.SecretBoxMasterKey != "" {
		raw, err := config.DecodeKey(cfg.Security.SecretBoxMasterKey)
		if err == nil {
			box, err = secretbox.New(raw)
		}
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: secretbox: %w", err)
		}
	} else {
		log.Warn("secretbox sin clave maestra: las semillas TOTP se leen en claro (sólo dev)")
	}

	auth, err := tiered.New(tiered.Config{
		Subjects:  st.Subjects(),
		Codec:     codec,
		Box:       box,
		Hardening: a.Hardening,
		Guardian:  g,
		TTL: map[int]time.Duration{
			tiered.T1: config.Dur(cfg.Tiers.TTL.T1, time.Hour),
			tiered.T2: config.Dur(cfg.Tiers.TTL.T2, 45*time.Minute),
			tiered.T3: config.Dur(cfg.Tiers.TTL.T3, 30*time.Minute),
			tiered.T4: config.Dur(cfg.Tiers.TTL.T4, 20*time.Minute),
			tiered.T5: config.Dur(cfg.Tiers.TTL.T5, 10*time.Minute),
		},
		LockoutMaxFailures: cfg.Tiers.Lockout.MaxFailures,
		LockoutWindow:      config.Dur(cfg.Tiers.Lockout.Window, 15*time.Minute),
		LockoutDuration:    config.Dur(cfg.Tiers.Lockout.Duration, 15*time.Minute),
		TOTP: totp.Options{
			Digits: cfg.Tiers.TOTP.Digits,
			Period: cfg.Tiers.TOTP.Period,
			Skew:   cfg.Tiers.TOTP.Skew,
		},
		RPID:                   cfg.Tiers.Hardware.RPID,
		Origins:                cfg.Tiers.Hardware.Origins,
		BiometricMinConfidence: cfg.Tiers.Biometric.MinConfidence,
		RequireLiveness:        cfg.Tiers.Biometric.RequireLiveness,
		PolicyTimeout:          config.Dur(cfg.Tiers.PolicyTimeout, 2*time.Second),
		Logger:                 logger.Named("tiered"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: tiered: %w", err)
	}
	a.Tiered = auth

	provider, err := oidc.New(oidc.Config{
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,

		Clients:  st.Clients(),
		Subjects: st.Subjects(),
		Grants:   st.Grants(),
		Codec:    codec,
		Cache:    c,

		AccessTTL:    config.Dur(cfg.Token.AccessTTL, 15*time.Minute),
		CodeTTL:      config.Dur(cfg.OIDC.CodeTTL, 10*time.Minute),
		RefreshTTL:   config.Dur(cfg.OIDC.RefreshTTL, 720*time.Hour),
		DiscoveryTTL: config.Dur(cfg.OIDC.DiscoveryTTL, 10*time.Minute),

		// con fail_closed un documento de discovery defectuoso aborta el
		// boot en vez de descubrirse en runtime
		DiscoveryFailOpen: !cfg.OIDC.FailClosed,

		Logger: logger.Named("oidc"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: oidc: %w", err)
	}
	a.OIDC = provider

	sessions, err := websession.New(websession.Config{
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,

		Clients:  st.Clients(),
		Subjects: st.Subjects(),
		Codec:    codec,
		Cache:    c,
		Guardian: g,

		Hardening: a.Hardening,

		RPID:    cfg.Tiers.Hardware.RPID,
		Origins: cfg.Tiers.Hardware.Origins,

		RiskThreshold: cfg.WebSession.RiskThreshold,
		FailOpen:      cfg.WebSession.FailOpen,
		PolicyTimeout: config.Dur(cfg.Guardian.Timeout, 2*time.Second),

		SessionTTL: config.Dur(cfg.WebSession.TTL, 10*time.Minute),
		AccessTTL:  config.Dur(cfg.Token.AccessTTL, 15*time.Minute),

		Logger: logger.Named("websession"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: websession: %w", err)
	}
	a.Sessions = sessions

	if cfg.Metrics.Enabled {
		if err := metrics.Register(nil); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: metrics: %w", err)
		}
	}

	a.Sched = scheduler.New(logger.Named("scheduler"))
	a.registerSweeps()

	return a, nil
}

// buildRateCounter elige el backend de conteo. Redis comparte cuota entre
// instancias; memoria alcanza para un solo proceso.
func (a *App) buildRateCounter() rate.Counter {
	if a.Cfg.Hardening.Rate.Backend == "redis" {
		// Si el cache ya es redis se comparte su conexión.
		if rc, ok := a.Cache.(interface{ Raw() *rdb.Client }); ok {
			return rate.NewRedisCounter(rc.Raw(), "rate")
		}
		client := rdb.NewClient(&rdb.Options{
			Addr: a.Cfg.Cache.Redis.Addr,
			DB:   a.Cfg.Cache.Redis.DB,
		})
		return rate.NewRedisCounter(client, "rate")
	}
	a.memCounter = rate.NewMemoryCounter()
	return a.memCounter
}

// buildKeyRing decodifica las claves configuradas. Sin claves se genera
// una efímera: los tokens mueren con el proceso, aceptable sólo en dev.
func (a *App) buildKeyRing() (*token.KeyRing, error) {
	if len(a.Cfg.Token.Keys) == 0 {
		var raw [32]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return nil, fmt.Errorf("app: clave efímera: %w", err)
		}
		kid := "ephemeral-" + time.Now().UTC().Format("20060102")
		a.Log.Warn("sin token.keys configuradas: usando clave efímera",
			logger.KeyID(kid))
		return token.NewKeyRing(kid, map[string][]byte{kid: raw[:]})
	}
	keys := make(map[string][]byte, len(a.Cfg.Token.Keys))
	for kid, sec := range a.Cfg.Token.Keys {
		rawKey, err := config.DecodeKey(sec)
		if err != nil {
			return nil, fmt.Errorf("app: token.keys[%s]: %w", kid, err)
		}
		keys[kid] = rawKey
	}
	return token.NewKeyRing(a.Cfg.Token.ActiveKID, keys)
}

func buildRules(cfg *config.Config) []hardening.Rule {
	mk := func(name string, rc config.RuleConfig) hardening.Rule {
		action := hardening.ActionThrottle
		if rc.Action == "block" {
			action = hardening.ActionBlock
		}
		return hardening.Rule{
			Name:   name,
			Limit:  rc.Limit,
			Window: config.Dur(rc.Window, time.Minute),
			Burst:  rc.Burst,
			Action: action,
		}
	}
	return []hardening.Rule{
		mk(hardening.RuleAuthentication, cfg.Hardening.Rate.Authentication),
		mk(hardening.RuleChallenge, cfg.Hardening.Rate.Challenge),
		mk(hardening.RuleBiometric, cfg.Hardening.Rate.Biometric),
		mk(hardening.RuleGlobal, cfg.Hardening.Rate.Global),
	}
}

// registerSweeps concentra todo el trabajo periódico en el scheduler.
func (a *App) registerSweeps() {
	cfg := a.Cfg
	a.Sched.Register("nonce_sweep", config.Dur(cfg.Hardening.Nonce.Sweep, time.Minute),
		func(context.Context) error {
			nonces, blocks := a.Hardening.Sweep()
			metrics.RecordSweep("nonce", nonces)
			metrics.RecordSweep("rate_block", blocks)
			return nil
		})
	a.Sched.Register("session_sweep", config.Dur(cfg.WebSession.Sweep, time.Minute),
		func(ctx context.Context) error {
			metrics.RecordSweep("websession", a.Sessions.Sweep(ctx))
			return nil
		})
	a.Sched.Register("revocation_sweep", config.Dur(cfg.Token.RevocationSweep, 5*time.Minute),
		func(ctx context.Context) error {
			n, err := a.Revocations.Sweep(ctx)
			metrics.RecordSweep("revocation", n)
			return err
		})
	a.Sched.Register("discovery_refresh", config.Dur(cfg.OIDC.DiscoveryTTL, 10*time.Minute),
		func(context.Context) error {
			_, _, err := a.OIDC.Discovery()
			return err
		})
	if a.memCounter != nil {
		a.Sched.Register("rate_gc", 10*time.Minute, func(context.Context) error {
			a.memCounter.GC(time.Hour)
			return nil
		})
	}
}

// Router arma el árbol de rutas con la cadena de middlewares completa.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(mw.WithRequestID())
	r.Use(mw.WithRecover())
	r.Use(mw.WithSecurityHeaders())
	r.Use(mw.WithLogging(logger.L()))
	if a.Cfg.Metrics.Enabled {
		r.Use(mw.WithMetrics())
	}
	if a.globalLimiter != nil {
		r.Use(mw.WithRateLimit(mw.RateLimitConfig{
			Limiter:   a.globalLimiter,
			Whitelist: a.Cfg.Hardening.Rate.Whitelist,
		}))
	}

	noStore := mw.WithNoStore()

	r.Get("/.well-known/openid-configuration", handlers.NewDiscoveryHandler(a.OIDC))
	r.Get("/.well-known/jwks.json", handlers.NewJWKSHandler(a.OIDC))

	r.Get("/oauth2/authorize", handlers.NewAuthorizeHandler(a.OIDC, a.Codec))
	r.Method(http.MethodPost, "/oauth2/token", noStore(handlers.NewTokenHandler(a.OIDC)))
	userinfo := noStore(handlers.NewUserinfoHandler(a.OIDC))
	r.Method(http.MethodGet, "/oauth2/userinfo", userinfo)
	r.Method(http.MethodPost, "/oauth2/userinfo", userinfo)
	r.Post("/oauth2/revoke", handlers.NewRevokeHandler(a.OIDC))
	r.Post("/oauth2/introspect", handlers.NewIntrospectHandler(a.OIDC))

	r.Method(http.MethodPost, "/v1/auth/tier/{tier}",
		noStore(handlers.NewTierHandler(a.Tiered, a.Codec)))
	r.Get("/v1/auth/challenge", handlers.NewChallengeHandler(a.Hardening,
		config.Dur(a.Cfg.Hardening.Nonce.TTL, 15*time.Minute)))

	r.Post("/v1/webauthn/initiate", handlers.NewWSInitiateHandler(a.Sessions))
	r.Post("/v1/webauthn/complete", handlers.NewWSCompleteHandler(a.Sessions))
	r.Method(http.MethodPost, "/v1/webauthn/token",
		noStore(handlers.NewWSTokenHandler(a.Sessions)))

	r.Get("/healthz", handlers.NewHealthzHandler())
	r.Get("/readyz", handlers.NewReadyzHandler(a.Store, a.Cache))
	if a.Cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// Run sirve HTTP y corre el scheduler hasta que el contexto se cancele;
// después apaga el server con gracia.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Cfg.Server.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("HTTP arriba", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.Sched.Run(gctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

// Close libera los recursos en orden inverso a la construcción.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil && !strings.Contains(err.Error(), "closed") {
			a.Log.Warn("cierre de cache", zap.Error(err))
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
