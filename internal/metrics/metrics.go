// Package metrics define las métricas Prometheus del dominio en un paquete
// propio para evitar ciclos entre los servicios y el transporte HTTP.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_attempts_total",
		Help: "Intentos de autenticación por tier y resultado",
	}, []string{"tier", "result"})

	AuthDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_duration_seconds",
		Help:    "Latencia de la autenticación por tier",
		Buckets: prometheus.DefBuckets,
	}, []string{"tier"})

	TokenValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_validations_total",
		Help: "Validaciones de token por desenlace",
	}, []string{"outcome"})

	TokenValidationCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_validation_cache_total",
		Help: "Aciertos y fallos del cache de validación",
	}, []string{"result"}) // hit|miss

	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokens_issued_total",
		Help: "Tokens emitidos por flujo",
	}, []string{"flow"}) // tier|oidc_code|oidc_refresh|websession

	OIDCGrants = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oidc_grants_total",
		Help: "Canjes del token endpoint por grant y resultado",
	}, []string{"grant_type", "result"})

	RateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_decisions_total",
		Help: "Decisiones del rate limiter por regla y acción",
	}, []string{"rule", "action"})

	SecurityEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "security_events_total",
		Help: "Eventos de seguridad por tipo y nivel de amenaza",
	}, []string{"type", "threat_level"})

	SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "websession_transitions_total",
		Help: "Transiciones de la máquina de estados de sesión web",
	}, []string{"state"})

	Revocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_revocations_total",
		Help: "Revocaciones de token por origen",
	}, []string{"source"}) // rfc7009|code_replay|refresh_replay|admin

	SweepPurged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_purged_total",
		Help: "Entradas purgadas por las tareas periódicas",
	}, []string{"task"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Requests HTTP por método, ruta normalizada y status",
	}, []string{"method", "path", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia HTTP por método y ruta normalizada",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Register registra todos los collectors del dominio en el registry dado
// (o el default si es nil). Duplicados se ignoran.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		AuthAttempts, AuthDuration,
		TokenValidations, TokenValidationCache, TokensIssued,
		OIDCGrants, RateLimitDecisions, SecurityEvents,
		SessionTransitions, Revocations, SweepPurged,
		HTTPRequests, HTTPDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// ObserveAuth registra un intento de autenticación completo.
func ObserveAuth(tier int, result string, took time.Duration) {
	t := strconv.Itoa(tier)
	AuthAttempts.WithLabelValues(t, result).Inc()
	AuthDuration.WithLabelValues(t).Observe(took.Seconds())
}

// RecordValidation registra el desenlace de una validación y si salió del cache.
func RecordValidation(outcome string, cached bool) {
	TokenValidations.WithLabelValues(outcome).Inc()
	if cached {
		TokenValidationCache.WithLabelValues("hit").Inc()
	} else {
		TokenValidationCache.WithLabelValues("miss").Inc()
	}
}

func RecordIssued(flow string) { TokensIssued.WithLabelValues(flow).Inc() }

func RecordGrant(grantType, result string) {
	OIDCGrants.WithLabelValues(grantType, result).Inc()
}

func RecordRateDecision(rule, action string) {
	RateLimitDecisions.WithLabelValues(rule, action).Inc()
}

// RecordSecurityEvent calza con el EventHook de hardening.
func RecordSecurityEvent(eventType, threatLevel string) {
	SecurityEvents.WithLabelValues(eventType, threatLevel).Inc()
}

func RecordSessionTransition(state string) {
	SessionTransitions.WithLabelValues(state).Inc()
}

func RecordRevocation(source string) { Revocations.WithLabelValues(source).Inc() }

func RecordSweep(task string, purged int) {
	if purged > 0 {
		SweepPurged.WithLabelValues(task).Add(float64(purged))
	}
}
