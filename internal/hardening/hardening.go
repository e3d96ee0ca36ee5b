// Package hardening agrupa las defensas de borde: nonces anti-replay,
// límites de tasa con escalada, análisis de requests y dispositivos,
// detección de viaje imposible y el log acotado de eventos de seguridad.
package hardening

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/guardian"
	"github.com/dropDatabas3/cancerbero/internal/rate"
)

// Action es la severidad del veredicto. El orden importa: el check
// compuesto se queda con la acción más severa.
type Action int

const (
	ActionAllow Action = iota
	ActionThrottle
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionThrottle:
		return "throttle"
	case ActionBlock:
		return "block"
	default:
		return "allow"
	}
}

// Niveles de amenaza de los eventos.
const (
	ThreatLow      = "low"
	ThreatMedium   = "medium"
	ThreatHigh     = "high"
	ThreatCritical = "critical"
)

// Config arma un Manager completo. Counter es el backend de conteo
// (memoria o redis); Guardian y EventHook son opcionales.
type Config struct {
	NonceTTL         time.Duration
	NonceMaxPerOwner int

	Counter              rate.Counter
	Rules                []Rule
	Whitelist            []string
	ProgressivePenalties bool
	BlockBase            time.Duration
	BlockMax             time.Duration

	SuspiciousAgents  []string
	SuspiciousHeaders []string
	HistorySize       int
	AnomalyThreshold  float64

	GeoMaxSpeedKmh float64

	EventCapacity int

	Guardian  guardian.Client
	EventHook func(SecurityEvent)
	Logger    *zap.Logger
	Now       func() time.Time
}

// Manager coordina las piezas. Cada una sirve también por separado; el
// check compuesto las corre en secuencia y devuelve lo más severo.
type Manager struct {
	Nonces   *NonceStore
	Rate     *RateLimiter
	Analyzer *Analyzer
	Geo      *GeoTracker
	Events   *EventLog

	guardian guardian.Client
	hook     func(SecurityEvent)
	log      *zap.Logger
	now      func() time.Time
}

func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Counter == nil {
		cfg.Counter = rate.NewMemoryCounter()
	}
	m := &Manager{
		Nonces:   NewNonceStore(cfg.NonceTTL, cfg.NonceMaxPerOwner, cfg.Logger),
		Analyzer: NewAnalyzer(cfg.SuspiciousAgents, cfg.SuspiciousHeaders, cfg.HistorySize, cfg.AnomalyThreshold),
		Geo:      NewGeoTracker(cfg.GeoMaxSpeedKmh),
		Events:   NewEventLog(cfg.EventCapacity),
		guardian: cfg.Guardian,
		hook:     cfg.EventHook,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
	m.Rate = NewRateLimiter(RateLimiterConfig{
		Counter:              cfg.Counter,
		Rules:                cfg.Rules,
		Whitelist:            cfg.Whitelist,
		ProgressivePenalties: cfg.ProgressivePenalties,
		BlockBase:            cfg.BlockBase,
		BlockMax:             cfg.BlockMax,
		Logger:               cfg.Logger,
	})
	m.Nonces.now = cfg.Now
	m.Rate.now = cfg.Now
	m.Geo.now = cfg.Now
	return m
}

// CheckRequest es la vista canónica del request para el check compuesto.
type CheckRequest struct {
	Identifier string // clave del rate limit: ip o subject
	Rule       string // regla aplicable; vacío salta el rate limit

	Nonce      string // opcional; si viene se consume
	NonceOwner string

	IP        string
	UserAgent string
	Endpoint  string
	BodySize  int64
	Headers   map[string]string

	Subject  string
	Location *Location // opcional, dispara el chequeo geográfico
}

// CheckReport agrega los resultados parciales y el veredicto final.
type CheckReport struct {
	Action   Action
	Critical bool
	Reasons  []string

	Rate     Decision
	Nonce    string // razón de rechazo del nonce, vacío si pasó o no vino
	Analysis Analysis
	Geo      GeoCheck
}

func (r *CheckReport) escalate(a Action, reason string) {
	if a > r.Action {
		r.Action = a
	}
	r.Reasons = append(r.Reasons, reason)
}

// ComprehensiveCheck corre rate limit, nonce y análisis en secuencia.
// Cualquier hallazgo crítico fuerza block sin importar el resto.
func (m *Manager) ComprehensiveCheck(ctx context.Context, req CheckRequest) CheckReport {
	report := CheckReport{Action: ActionAllow}

	if req.Rule != "" {
		dec, err := m.Rate.Check(ctx, req.Identifier, req.Rule)
		if err != nil {
			// backend de conteo caído: fail-closed
			m.log.Error("rate check falló", zap.Error(err), zap.String("rule", req.Rule))
			report.Critical = true
			report.escalate(ActionBlock, "rate:backend_error")
		} else {
			report.Rate = dec
			if dec.Action != ActionAllow {
				report.escalate(dec.Action, "rate:"+dec.Reason)
			}
			if dec.Action == ActionBlock {
				m.emit(SecurityEvent{
					Type:        "rate_limit_block",
					ThreatLevel: ThreatHigh,
					Actor:       req.Identifier,
					Action:      "block",
					At:          m.now(),
					Detail:      map[string]any{"rule": dec.Rule, "hits": dec.Hits},
				})
			}
		}
	}

	if req.Nonce != "" {
		ok, reason := m.Nonces.Validate(req.Nonce, req.NonceOwner, req.Endpoint)
		if !ok {
			report.Nonce = reason
			report.Critical = true
			report.escalate(ActionBlock, "nonce:"+reason)
			m.emit(SecurityEvent{
				Type:        "replay_detected",
				ThreatLevel: ThreatCritical,
				Actor:       req.Identifier,
				Action:      "block",
				At:          m.now(),
				Detail:      map[string]any{"reason": reason, "endpoint": req.Endpoint},
			})
		}
	}

	an := m.Analyzer.Analyze(RequestInfo{
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Endpoint:  req.Endpoint,
		BodySize:  req.BodySize,
		Headers:   req.Headers,
	})
	report.Analysis = an
	if an.SuspiciousAgent {
		report.Critical = true
		report.escalate(ActionBlock, "analysis:suspicious_agent")
		m.emit(SecurityEvent{
			Type:        "suspicious_agent",
			ThreatLevel: ThreatCritical,
			Actor:       req.IP,
			Action:      "block",
			At:          m.now(),
			Detail:      map[string]any{"user_agent": req.UserAgent},
		})
	}
	if len(an.SuspiciousHeaders) > 0 {
		report.escalate(ActionThrottle, "analysis:suspicious_headers")
		m.emit(SecurityEvent{
			Type:        "suspicious_headers",
			ThreatLevel: ThreatMedium,
			Actor:       req.IP,
			Action:      "throttle",
			At:          m.now(),
			Detail:      map[string]any{"headers": an.SuspiciousHeaders},
		})
	}
	if an.Anomalous {
		report.escalate(ActionThrottle, "analysis:anomaly")
		m.emit(SecurityEvent{
			Type:        "request_anomaly",
			ThreatLevel: ThreatMedium,
			Actor:       req.IP,
			Action:      "throttle",
			At:          m.now(),
			Detail:      map[string]any{"score": an.AnomalyScore, "fingerprint": an.Fingerprint},
		})
	}

	if req.Location != nil && req.Subject != "" {
		gc := m.Geo.Observe(req.Subject, *req.Location)
		report.Geo = gc
		if gc.Impossible {
			report.Critical = true
			report.escalate(ActionBlock, "geo:impossible_travel")
			m.emit(SecurityEvent{
				Type:        "impossible_travel",
				ThreatLevel: ThreatHigh,
				Actor:       req.Subject,
				Action:      "block",
				At:          m.now(),
				Detail:      map[string]any{"distance_km": gc.DistanceKm, "speed_kmh": gc.SpeedKmh},
			})
		}
	}

	if report.Critical {
		report.Action = ActionBlock
	}
	return report
}

// ReportEvent registra un evento generado fuera del manager (otros
// componentes lo usan para audit trail y monitoreo).
func (m *Manager) ReportEvent(e SecurityEvent) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.emit(e)
}

// Sweep purga nonces vencidos y bloqueos viejos. Lo llama el scheduler.
func (m *Manager) Sweep() (nonces, blocks int) {
	return m.Nonces.Sweep(), m.Rate.Sweep()
}

func (m *Manager) emit(e SecurityEvent) {
	m.Events.Append(e)
	if m.hook != nil {
		m.hook(e)
	}
	if m.guardian == nil {
		return
	}
	// monitoreo asíncrono: el path del request no espera al guardian
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.guardian.MonitorBehavior(ctx, guardian.Event{
			Type:        e.Type,
			ThreatLevel: e.ThreatLevel,
			Actor:       e.Actor,
			Action:      e.Action,
			At:          e.At,
			Detail:      e.Detail,
		}); err != nil {
			m.log.Debug("monitor behavior falló", zap.Error(err))
		}
	}()
}
