package hardening

import (
	"sync"
	"time"
)

// SecurityEvent es un registro inmutable de auditoría. Una vez anexado no
// se modifica; Snapshot devuelve copias.
type SecurityEvent struct {
	Type        string
	ThreatLevel string
	Actor       string
	Action      string
	At          time.Time
	Detail      map[string]any
}

// EventLog es un anillo acotado de eventos. Lleno, pisa el más viejo.
type EventLog struct {
	mu   sync.Mutex
	buf  []SecurityEvent
	next int
	full bool
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &EventLog{buf: make([]SecurityEvent, capacity)}
}

func (l *EventLog) Append(e SecurityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

// Snapshot devuelve los eventos en orden de llegada.
func (l *EventLog) Snapshot() []SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]SecurityEvent, l.next)
		copy(out, l.buf[:l.next])
		return out
	}
	out := make([]SecurityEvent, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	out = append(out, l.buf[:l.next]...)
	return out
}

func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}
