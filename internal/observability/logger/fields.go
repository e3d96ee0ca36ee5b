package logger

import (
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/util"
)

// Helpers tipados para mantener las claves de log estables en todo el
// código. Añadir aquí antes de inventar una clave nueva inline.

// === HTTP / request ===

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func RemoteIP(v string) zap.Field  { return zap.String("remote_ip", v) }
func UserAgent(v string) zap.Field { return zap.String("user_agent", v) }
func Latency(v time.Duration) zap.Field {
	return zap.Duration("latency", v)
}

// === Identidad / OAuth ===

// Subject enmascara el identificador: los usernames suelen ser emails y
// los logs no son el lugar para PII completa.
func Subject(v string) zap.Field   { return zap.String("subject", util.Mask(v)) }
func ClientID(v string) zap.Field  { return zap.String("client_id", v) }
func GrantType(v string) zap.Field { return zap.String("grant_type", v) }
func Scope(v string) zap.Field     { return zap.String("scope", v) }
func JTI(v string) zap.Field       { return zap.String("jti", v) }
func KeyID(v string) zap.Field     { return zap.String("kid", v) }
func SessionID(v string) zap.Field { return zap.String("session_id", v) }

// === Autenticación escalonada ===

func Tier(v int) zap.Field       { return zap.Int("tier", v) }
func Method2FA(v string) zap.Field { return zap.String("auth_method", v) }
func Reason(v string) zap.Field  { return zap.String("reason", v) }

// === Seguridad ===

func ThreatLevel(v string) zap.Field { return zap.String("threat_level", v) }
func Rule(v string) zap.Field        { return zap.String("rule", v) }
func EventType(v string) zap.Field   { return zap.String("event_type", v) }
func Nonce(v string) zap.Field       { return zap.String("nonce", v) }
func Anomaly(v float64) zap.Field    { return zap.Float64("anomaly_score", v) }

// === Sistema ===

func Component(v string) zap.Field { return zap.String("component", v) }
func Driver(v string) zap.Field    { return zap.String("driver", v) }
func Err(err error) zap.Field      { return zap.Error(err) }
