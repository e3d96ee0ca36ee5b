// Package store selecciona el backend de persistencia según configuración.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/store/memory"
	"github.com/dropDatabas3/cancerbero/internal/store/pg"
)

type Config struct {
	Driver          string // memory | postgres
	DSN             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// Open construye el core.Store del driver configurado.
func Open(ctx context.Context, cfg Config) (core.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		return pg.New(ctx, cfg.DSN, pg.Options{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("store: driver %q no soportado", cfg.Driver)
	}
}
