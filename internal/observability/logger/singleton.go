package logger

import (
	"sync"

	"go.uber.org/zap"
)

// El raíz arranca como no-op para que los paquetes puedan loguear antes de
// Init sin chequear nil (útil en tests que nunca inicializan).
var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init construye el logger raíz según cfg y lo instala. Debe llamarse una
// sola vez, al principio de main; llamadas posteriores reemplazan el raíz
// (se usa en tests para capturar salida).
func Init(cfg Config) error {
	l, err := cfg.build()
	if err != nil {
		return err
	}
	mu.Lock()
	root = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	zap.RedirectStdLog(l)
	return nil
}

// L devuelve el logger raíz actual.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Named deriva un logger con nombre de componente ("oidc", "tiered", ...).
// Es la forma canónica de obtener el logger que se inyecta en un servicio.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync vuelca los buffers pendientes. Llamar en el shutdown.
func Sync() {
	_ = L().Sync()
}
