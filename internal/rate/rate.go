// Package rate cuenta eventos por clave en ventana deslizante. El manager de
// hardening construye encima la semántica de reglas (burst, throttle, block,
// escalada); el middleware HTTP usa el Limiter plano.
package rate

import (
	"context"
	"time"
)

// Counter registra eventos y cuenta los que caen dentro de la ventana.
type Counter interface {
	// Incr registra un evento para key y devuelve el total vigente en la
	// ventana, incluido el recién registrado. Atómico por clave.
	Incr(ctx context.Context, key string, window time.Duration) (int, error)

	// Peek devuelve el total vigente sin registrar evento.
	Peek(ctx context.Context, key string, window time.Duration) (int, error)

	// Reset descarta el historial de la clave.
	Reset(ctx context.Context, key string) error
}

type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter es la vista simple allow/deny que consumen los middlewares.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// WindowLimiter aplica max eventos por ventana sobre cualquier Counter.
type WindowLimiter struct {
	Counter Counter
	Max     int
	Window  time.Duration
}

func NewWindowLimiter(c Counter, max int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{Counter: c, Max: max, Window: window}
}

func (l *WindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	hits, err := l.Counter.Incr(ctx, key, l.Window)
	if err != nil {
		return Result{}, err
	}
	remaining := int64(l.Max - hits)
	if remaining < 0 {
		remaining = 0
	}
	res := Result{Allowed: hits <= l.Max, Remaining: remaining}
	if !res.Allowed {
		res.RetryAfter = l.Window
	}
	return res, nil
}
