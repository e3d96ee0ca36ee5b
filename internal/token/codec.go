package token

import (
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/guardian"
)

// Claims de dominio que viajan junto a las estándar.
const (
	ClaimTier  = "tier"
	ClaimNS    = "ns"
	ClaimPerms = "perms"
	ClaimAMR   = "amr"
)

// Config arma un Codec. Ring es obligatorio; Revocations, Policy y Logger
// admiten nil y caen a memoria local, noop y nop respectivamente.
type Config struct {
	Issuer   string
	Audience string
	Ring     *KeyRing

	AccessTTL   time.Duration // default 15m
	ExpiryGrace time.Duration // margen tras exp, default 30s
	ClockSkew   time.Duration // tolerancia de iat/nbf a futuro, default 60s
	MaxAge      time.Duration // edad máxima aceptada, default 24h

	CacheSize int           // default 1000
	CacheTTL  time.Duration // default 2m

	PolicyEnabled  bool
	PolicyFailOpen bool
	PolicyTimeout  time.Duration // default 2s

	Revocations Revoker
	Policy      guardian.Client
	Logger      *zap.Logger
	Now         func() time.Time
}

// Codec firma y valida tokens. Seguro para uso concurrente: el anillo es
// inmutable y cache/revocaciones serializan sus mutaciones.
type Codec struct {
	iss  string
	aud  string
	ring *KeyRing

	accessTTL   time.Duration
	expiryGrace time.Duration
	clockSkew   time.Duration
	maxAge      time.Duration

	policyEnabled  bool
	policyFailOpen bool
	policyTimeout  time.Duration

	cache  *resultCache
	rev    Revoker
	policy guardian.Client
	log    *zap.Logger
	now    func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if cfg.Ring == nil {
		return nil, ErrNoActiveKey
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.ExpiryGrace <= 0 {
		cfg.ExpiryGrace = 30 * time.Second
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 60 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if cfg.PolicyTimeout <= 0 {
		cfg.PolicyTimeout = 2 * time.Second
	}
	if cfg.Revocations == nil {
		cfg.Revocations = NewMemoryRevocations()
	}
	if cfg.Policy == nil {
		cfg.Policy = guardian.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Codec{
		iss:            cfg.Issuer,
		aud:            cfg.Audience,
		ring:           cfg.Ring,
		accessTTL:      cfg.AccessTTL,
		expiryGrace:    cfg.ExpiryGrace,
		clockSkew:      cfg.ClockSkew,
		maxAge:         cfg.MaxAge,
		policyEnabled:  cfg.PolicyEnabled,
		policyFailOpen: cfg.PolicyFailOpen,
		policyTimeout:  cfg.PolicyTimeout,
		cache:          newResultCache(cfg.CacheSize, cfg.CacheTTL),
		rev:            cfg.Revocations,
		policy:         cfg.Policy,
		log:            cfg.Logger,
		now:            cfg.Now,
	}, nil
}

// Issue firma claims arbitrarios. kid vacío usa la clave activa; un kid
// explícito tiene que existir en el anillo.
func (c *Codec) Issue(claims map[string]any, kid string) (string, error) {
	if kid == "" {
		kid = c.ring.ActiveKID()
	}
	secret, ok := c.ring.Resolve(kid)
	if !ok {
		return "", ErrUnknownKID
	}

	mc := jwtv5.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, mc)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"
	return tk.SignedString(secret)
}

// IssueAccess emite un access token estándar: iss/sub/aud/iat/nbf/exp/jti
// más claims extra del dominio (tier, ns, perms, amr). jti es único por
// emisión y exp > iat = nbf siempre.
func (c *Codec) IssueAccess(sub string, ttl time.Duration, extra map[string]any) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = c.accessTTL
	}
	now := c.now().UTC()
	exp := now.Add(ttl)

	claims := jwtv5.MapClaims{
		"iss": c.iss,
		"sub": sub,
		"aud": c.aud,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
		"jti": uuid.NewString(),
	}
	for k, v := range extra {
		claims[k] = v
	}

	kid, secret := c.ring.Active()
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ActiveKID expone el kid de firma vigente (discovery, métricas).
func (c *Codec) ActiveKID() string { return c.ring.ActiveKID() }

// KIDs lista todos los key ids del ring, el activo incluido.
func (c *Codec) KIDs() []string { return c.ring.KIDs() }

// CacheLen devuelve cuántas validaciones exitosas hay cacheadas.
func (c *Codec) CacheLen() int { return c.cache.len() }
