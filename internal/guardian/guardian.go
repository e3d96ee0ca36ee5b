// Package guardian define el colaborador externo de políticas: un servicio
// consultivo que aprueba/deniega acciones y recibe eventos de comportamiento.
// Nunca es dueño de estado del core; se le pasa contexto por copia.
package guardian

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Puntos de control donde se consulta al guardian.
const (
	KindTokenUse    = "token_use"
	KindTierPre     = "tier_pre"
	KindTierPost    = "tier_post"
	KindSessionRisk = "session_risk"
)

// Action describe la acción a evaluar. Se construye por request y no se
// reutiliza; el guardian jamás la muta.
type Action struct {
	Kind      string         `json:"kind"`
	Subject   string         `json:"subject,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	Tier      int            `json:"tier,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

// Decision es la respuesta consultiva. RiskScore viene en [0,1]; 0 = sin
// riesgo conocido. Quién decide qué hacer con la decisión es el caller.
type Decision struct {
	Approved  bool    `json:"approved"`
	Reason    string  `json:"reason,omitempty"`
	RiskScore float64 `json:"risk_score,omitempty"`
}

// Event es el registro de comportamiento que se reporta para monitoreo.
type Event struct {
	Type        string         `json:"type"`
	ThreatLevel string         `json:"threat_level"`
	Actor       string         `json:"actor,omitempty"`
	Action      string         `json:"action,omitempty"`
	At          time.Time      `json:"at"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// Client es lo que el resto del sistema conoce del guardian. Las llamadas
// deben acotarse por contexto: el caller decide fail-open o fail-closed
// cuando el guardian no responde.
type Client interface {
	ValidateAction(ctx context.Context, a Action) (Decision, error)
	MonitorBehavior(ctx context.Context, e Event) error
}

// Config selecciona la implementación.
type Config struct {
	Kind    string // noop | http
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New construye el cliente según cfg.Kind.
func New(cfg Config, log *zap.Logger) (Client, error) {
	switch cfg.Kind {
	case "", "noop":
		return Noop{}, nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("guardian: base_url requerido para kind http")
		}
		return NewHTTP(cfg.BaseURL, cfg.Token, cfg.Timeout, log), nil
	default:
		return nil, fmt.Errorf("guardian: kind no soportado: %q", cfg.Kind)
	}
}

// Noop aprueba todo con riesgo cero. Útil en dev y como default seguro
// para despliegues sin guardian (el resto de capas sigue aplicando).
type Noop struct{}

func (Noop) ValidateAction(ctx context.Context, a Action) (Decision, error) {
	return Decision{Approved: true}, nil
}

func (Noop) MonitorBehavior(ctx context.Context, e Event) error { return nil }
