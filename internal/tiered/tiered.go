// Package tiered implementa la autenticación progresiva por niveles:
// T1 identificación, T2 password, T3 TOTP, T4 llave de hardware, T5
// biometría. Los prerequisitos son estrictos (T3 exige T2 vigente, T4 exige
// T3, T5 exige T4) y cada nivel emite un token con TTL decreciente.
package tiered

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/guardian"
	"github.com/dropDatabas3/cancerbero/internal/hardening"
	"github.com/dropDatabas3/cancerbero/internal/security/secretbox"
	"github.com/dropDatabas3/cancerbero/internal/security/totp"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// Tiers del sistema.
const (
	T1 = 1
	T2 = 2
	T3 = 3
	T4 = 4
	T5 = 5
)

// Razones de fallo. Estables: los clientes enrutan UX sobre estos strings.
const (
	ReasonMissingCredentials = "missing_credentials"
	ReasonUnknownSubject     = "unknown_subject"
	ReasonSubjectDisabled    = "subject_disabled"
	ReasonAccountLocked      = "account_locked"
	ReasonInvalidPassword    = "invalid_password"
	ReasonInvalidTOTP        = "invalid_totp_token"
	ReasonInvalidAssertion   = "invalid_assertion"
	ReasonConfidenceTooLow   = "confidence_too_low"
	ReasonLivenessRequired   = "liveness_required"
	ReasonDeviceNotTrusted   = "device_not_trusted"
	ReasonRateLimited        = "rate_limited"
	ReasonPolicyBlocked      = "policy_blocked"
	ReasonUnsupportedTier    = "unsupported_tier"
	ReasonInternal           = "internal_error"
)

// RequiresTier es la razón devuelta cuando falta el nivel previo.
func RequiresTier(n int) string { return fmt.Sprintf("requires_t%d_authentication", n) }

// Métodos de autenticación (claim amr).
const (
	MethodIdentification = "id"
	MethodPassword       = "pwd"
	MethodTOTP           = "otp"
	MethodHardwareKey    = "hwk"
	MethodBiometric      = "bio"
)

// AuthContext es la vista inmutable del intento: metadata del request más
// el material de credenciales del tier pedido. Se construye por request y
// no se persiste.
type AuthContext struct {
	Tier     int
	Username string

	// nivel ya acreditado en este contexto (0 = ninguno) y el camino amr
	// acumulado que lo respalda
	ExistingTier int
	ExistingAMR  []string

	// metadata del request
	IP            string
	UserAgent     string
	CorrelationID string
	At            time.Time

	// credenciales por tier
	Password  string
	TOTPCode  string
	Assertion []byte // sobre JSON de navigator.credentials.get()
	Challenge string // challenge esperado para la aserción
	Biometric *BiometricAttestation
}

// BiometricAttestation es el contrato T5: el dispositivo jura identidad
// con una confianza y un flag de prueba de vida.
type BiometricAttestation struct {
	DeviceID   string
	Method     string // face | fingerprint | voice
	Confidence float64
	Liveness   bool
}

// Result es el resultado estructurado de un intento. Nunca se lanza un
// panic ni un error a través del borde: todo fallo trae su razón.
type Result struct {
	Tier      int
	OK        bool
	Reason    string
	Subject   string
	Token     string
	ExpiresAt time.Time
	Path      []string // amr acumulado que respalda el token
	Latency   time.Duration
}

// Config arma un Authenticator.
type Config struct {
	Subjects core.SubjectStore
	Codec    *token.Codec
	Box      *secretbox.Box // descifra semillas TOTP en reposo

	Hardening *hardening.Manager // opcional: rate limit + eventos
	Guardian  guardian.Client    // opcional: pre/post checks

	// TTL por tier, índice 1..5. T1 el más largo, T5 el más corto.
	TTL map[int]time.Duration

	LockoutMaxFailures int
	LockoutWindow      time.Duration
	LockoutDuration    time.Duration

	TOTP totp.Options

	RPID    string
	Origins []string

	BiometricMinConfidence float64
	RequireLiveness        bool

	PolicyTimeout time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

// Authenticator es la máquina de estados de tiers.
type Authenticator struct {
	subjects core.SubjectStore
	codec    *token.Codec
	box      *secretbox.Box

	hardening *hardening.Manager
	guardian  guardian.Client

	ttl map[int]time.Duration

	lockMaxFailures int
	lockWindow      time.Duration
	lockDuration    time.Duration

	totpOpts totp.Options

	rpID    string
	origins []string

	bioMinConfidence float64
	requireLiveness  bool

	policyTimeout time.Duration

	log *zap.Logger
	now func() time.Time
}

func New(cfg Config) (*Authenticator, error) {
	if cfg.Subjects == nil {
		return nil, fmt.Errorf("tiered: falta el store de subjects")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("tiered: falta el codec de tokens")
	}
	if cfg.TTL == nil {
		cfg.TTL = map[int]time.Duration{
			T1: time.Hour,
			T2: 45 * time.Minute,
			T3: 30 * time.Minute,
			T4: 20 * time.Minute,
			T5: 10 * time.Minute,
		}
	}
	if cfg.LockoutMaxFailures <= 0 {
		cfg.LockoutMaxFailures = 5
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = 15 * time.Minute
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	if cfg.BiometricMinConfidence <= 0 {
		cfg.BiometricMinConfidence = 0.8
	}
	if cfg.PolicyTimeout <= 0 {
		cfg.PolicyTimeout = 2 * time.Second
	}
	if cfg.Guardian == nil {
		cfg.Guardian = guardian.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authenticator{
		subjects:         cfg.Subjects,
		codec:            cfg.Codec,
		box:              cfg.Box,
		hardening:        cfg.Hardening,
		guardian:         cfg.Guardian,
		ttl:              cfg.TTL,
		lockMaxFailures:  cfg.LockoutMaxFailures,
		lockWindow:       cfg.LockoutWindow,
		lockDuration:     cfg.LockoutDuration,
		totpOpts:         cfg.TOTP,
		rpID:             cfg.RPID,
		origins:          cfg.Origins,
		bioMinConfidence: cfg.BiometricMinConfidence,
		requireLiveness:  cfg.RequireLiveness,
		policyTimeout:    cfg.PolicyTimeout,
		log:              cfg.Logger,
		now:              cfg.Now,
	}, nil
}
