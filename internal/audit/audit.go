// Package audit escribe el rastro de auditoría de seguridad: una línea
// estructurada por evento, en un logger propio separado del log de
// aplicación para poder enrutarlo a un sink distinto. El Trail se engancha
// como EventHook del hardening.Manager.
package audit

import (
	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/hardening"
	"github.com/dropDatabas3/cancerbero/internal/metrics"
	"github.com/dropDatabas3/cancerbero/internal/observability/logger"
)

type Trail struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Trail {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trail{log: log}
}

// Security registra un evento de seguridad. Los eventos son inmutables;
// acá sólo se serializan y se cuentan.
func (t *Trail) Security(e hardening.SecurityEvent) {
	metrics.RecordSecurityEvent(e.Type, e.ThreatLevel)
	t.log.Info("security_event",
		logger.EventType(e.Type),
		logger.ThreatLevel(e.ThreatLevel),
		zap.String("actor", e.Actor),
		zap.String("action", e.Action),
		zap.Time("at", e.At),
		zap.Any("detail", e.Detail),
	)
}
