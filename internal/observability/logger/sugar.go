package logger

import "go.uber.org/zap"

// S devuelve la versión sugared del raíz, para sitios donde el formato
// printf compensa (arranque, CLI). El código de servicios usa L/Named.
func S() *zap.SugaredLogger {
	return L().Sugar()
}
