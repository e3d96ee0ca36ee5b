// Package websession implementa el ceremony WebAuthn-sobre-OIDC como
// máquina de estados: initiated -> webauthn_validated -> guardian_assessed
// -> code_issued -> token_issued, con expired/failed desde cualquier estado
// no terminal. Las sesiones viven en el cache compartido con TTL corto; el
// code de canje es de un solo uso y el par de tokens lleva amr y risk score.
package websession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/cache"
	"github.com/dropDatabas3/cancerbero/internal/guardian"
	"github.com/dropDatabas3/cancerbero/internal/hardening"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// State es el estado de una sesión.
type State string

const (
	StateInitiated         State = "initiated"
	StateWebAuthnValidated State = "webauthn_validated"
	StateGuardianAssessed  State = "guardian_assessed"
	StateCodeIssued        State = "code_issued"
	StateTokenIssued       State = "token_issued"
	StateExpired           State = "expired"
	StateFailed            State = "failed"
)

// Errores del ceremony. El transporte los mapea a códigos OAuth.
var (
	ErrSessionNotFound   = errors.New("websession: sesión inexistente")
	ErrSessionExpired    = errors.New("websession: sesión vencida")
	ErrInvalidState      = errors.New("websession: transición inválida para el estado actual")
	ErrInvalidParams     = errors.New("websession: parámetros de autorización inválidos")
	ErrNoCredentials     = errors.New("websession: el sujeto no tiene llaves registradas")
	ErrAssertionFailed   = errors.New("websession: la aserción no verificó")
	ErrRiskTooHigh       = errors.New("websession: riesgo por encima del umbral")
	ErrPolicyUnavailable = errors.New("websession: colaborador de política indisponible")
	ErrCodeMismatch      = errors.New("websession: code inválido")
	ErrPKCEFailed        = errors.New("websession: verificación PKCE falló")
	ErrSubjectDisabled   = errors.New("websession: el sujeto ya no está habilitado")
	ErrRequestBlocked    = errors.New("websession: request bloqueado por las defensas de borde")
)

// Config arma un Service.
type Config struct {
	Issuer   string
	Audience string

	Clients  core.ClientStore
	Subjects core.SubjectStore
	Codec    *token.Codec
	Cache    cache.Client
	Guardian guardian.Client

	Hardening *hardening.Manager // opcional: eventos de seguridad

	RPID      string
	Origins   []string
	RequireUV bool

	RiskThreshold float64       // default 0.7
	FailOpen      bool          // guardian caído: false = la sesión falla
	PolicyTimeout time.Duration // default 2s

	SessionTTL time.Duration // default 10m
	AccessTTL  time.Duration // default 15m
	IDTokenTTL time.Duration // default 15m

	Logger *zap.Logger
	Now    func() time.Time
}

// Service corre la máquina de estados. Seguro para uso concurrente; nunca
// retiene locks mientras consulta al colaborador de política.
type Service struct {
	issuer   string
	audience string

	clients  core.ClientStore
	subjects core.SubjectStore
	codec    *token.Codec
	cache    cache.Client
	guardian guardian.Client

	hardening *hardening.Manager

	rpID      string
	origins   []string
	requireUV bool

	riskThreshold float64
	failOpen      bool
	policyTimeout time.Duration

	sessionTTL time.Duration
	accessTTL  time.Duration
	idTokenTTL time.Duration

	// índice local de sesiones para el sweep y los conteos; la verdad
	// vive en el cache
	mu    sync.Mutex
	index map[string]time.Time // session id -> expiry

	log *zap.Logger
	now func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("websession: falta el issuer")
	}
	if cfg.Clients == nil || cfg.Subjects == nil {
		return nil, fmt.Errorf("websession: faltan stores")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("websession: falta el codec")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("websession: falta el cache de sesiones")
	}
	if cfg.RPID == "" || len(cfg.Origins) == 0 {
		return nil, fmt.Errorf("websession: faltan rp_id u origins")
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.Issuer
	}
	if cfg.Guardian == nil {
		cfg.Guardian = guardian.Noop{}
	}
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = 0.7
	}
	if cfg.PolicyTimeout <= 0 {
		cfg.PolicyTimeout = 2 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10 * time.Minute
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.IDTokenTTL <= 0 {
		cfg.IDTokenTTL = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		clients:       cfg.Clients,
		subjects:      cfg.Subjects,
		codec:         cfg.Codec,
		cache:         cfg.Cache,
		guardian:      cfg.Guardian,
		hardening:     cfg.Hardening,
		rpID:          cfg.RPID,
		origins:       cfg.Origins,
		requireUV:     cfg.RequireUV,
		riskThreshold: cfg.RiskThreshold,
		failOpen:      cfg.FailOpen,
		policyTimeout: cfg.PolicyTimeout,
		sessionTTL:    cfg.SessionTTL,
		accessTTL:     cfg.AccessTTL,
		idTokenTTL:    cfg.IDTokenTTL,
		index:         make(map[string]time.Time),
		log:           cfg.Logger,
		now:           cfg.Now,
	}, nil
}

// Len cuenta las sesiones vivas según el índice local.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Sweep purga del cache y del índice las sesiones ya vencidas.
func (s *Service) Sweep(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	var stale []string
	for id, exp := range s.index {
		if now.After(exp) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(s.index, id)
	}
	s.mu.Unlock()

	for _, id := range stale {
		if err := s.cache.Delete(ctx, sessionKey(id)); err != nil {
			s.log.Warn("sweep no pudo borrar sesión", zap.String("session_id", id), zap.Error(err))
		}
	}
	return len(stale)
}

func (s *Service) reportEvent(e hardening.SecurityEvent) {
	if s.hardening == nil {
		return
	}
	s.hardening.ReportEvent(e)
}
