// Package oidc implementa la superficie OAuth2/OIDC del proveedor:
// discovery, authorization code con PKCE S256 obligatorio, intercambio y
// rotación de refresh tokens, revocación (RFC 7009), introspección
// (RFC 7662) y userinfo. Los codes y refresh tokens viven hasheados en el
// cache compartido; nunca se persiste material en claro.
package oidc

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/cache"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// Error es un error OAuth2 con su código de la RFC 6749 y el status HTTP
// con el que debe viajar. Is compara por código, así los sentinels de
// abajo funcionan con errors.Is aunque la descripción varíe.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return "oidc: " + e.Code
	}
	return "oidc: " + e.Code + ": " + e.Description
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) withDescription(d string) *Error {
	cp := *e
	cp.Description = d
	return &cp
}

var (
	ErrInvalidRequest   = &Error{Code: "invalid_request", Status: http.StatusBadRequest}
	ErrInvalidClient    = &Error{Code: "invalid_client", Status: http.StatusUnauthorized}
	ErrInvalidGrant     = &Error{Code: "invalid_grant", Status: http.StatusBadRequest}
	ErrUnsupportedGrant = &Error{Code: "unsupported_grant_type", Status: http.StatusBadRequest}
	ErrInvalidScope     = &Error{Code: "invalid_scope", Status: http.StatusBadRequest}
	ErrInvalidToken     = &Error{Code: "invalid_token", Status: http.StatusUnauthorized}
	ErrServerError      = &Error{Code: "server_error", Status: http.StatusInternalServerError}
)

// Config arma un Provider. Issuer y Audience deben coincidir con los del
// codec: el provider emite claims que el mismo codec va a validar.
type Config struct {
	Issuer   string
	Audience string
	Scopes   []string // scopes soportados; default openid profile email offline_access

	Clients  core.ClientStore
	Subjects core.SubjectStore
	Grants   core.GrantStore
	Codec    *token.Codec
	Cache    cache.Client

	AccessTTL    time.Duration // default 15m
	IDTokenTTL   time.Duration // default 15m
	CodeTTL      time.Duration // default 10m
	RefreshTTL   time.Duration // default 720h
	DiscoveryTTL time.Duration // default 5m

	// DiscoveryFailOpen deja construir el provider aunque el documento de
	// discovery no valide; el endpoint lo va a rechazar en runtime hasta
	// que la configuración se corrija. Apagado el documento inválido
	// aborta el arranque.
	DiscoveryFailOpen bool

	Logger *zap.Logger
	Now    func() time.Time
}

// Provider es el plano OAuth2/OIDC completo. Seguro para uso concurrente.
type Provider struct {
	issuer   string
	audience string
	scopes   []string

	clients  core.ClientStore
	subjects core.SubjectStore
	grants   core.GrantStore
	codec    *token.Codec
	cache    cache.Client

	accessTTL    time.Duration
	idTokenTTL   time.Duration
	codeTTL      time.Duration
	refreshTTL   time.Duration
	discoveryTTL time.Duration

	mu        sync.RWMutex
	discovery discoveryState

	log *zap.Logger
	now func() time.Time
}

func New(cfg Config) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("oidc: falta el issuer")
	}
	if cfg.Clients == nil || cfg.Subjects == nil || cfg.Grants == nil {
		return nil, fmt.Errorf("oidc: faltan stores (clients/subjects/grants)")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("oidc: falta el codec de tokens")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("oidc: falta el cache para codes y refresh tokens")
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.Issuer
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "profile", "email", "offline_access"}
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.IDTokenTTL <= 0 {
		cfg.IDTokenTTL = 15 * time.Minute
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 720 * time.Hour
	}
	if cfg.DiscoveryTTL <= 0 {
		cfg.DiscoveryTTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Provider{
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		scopes:       cfg.Scopes,
		clients:      cfg.Clients,
		subjects:     cfg.Subjects,
		grants:       cfg.Grants,
		codec:        cfg.Codec,
		cache:        cfg.Cache,
		accessTTL:    cfg.AccessTTL,
		idTokenTTL:   cfg.IDTokenTTL,
		codeTTL:      cfg.CodeTTL,
		refreshTTL:   cfg.RefreshTTL,
		discoveryTTL: cfg.DiscoveryTTL,
		log:          cfg.Logger,
		now:          cfg.Now,
	}

	// el documento se valida al construir: config inválida no arranca,
	// salvo fail open explícito
	if _, _, err := p.Discovery(); err != nil {
		if !cfg.DiscoveryFailOpen {
			return nil, err
		}
		p.log.Warn("documento de discovery inválido, el endpoint lo va a rechazar", zap.Error(err))
	}
	return p, nil
}
