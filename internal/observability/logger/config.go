package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describe cómo construir el logger raíz. Se mapea 1:1 con la
// sección `logging:` del YAML de configuración.
type Config struct {
	// Level: debug | info | warn | error. Vacío => info.
	Level string `yaml:"level"`
	// Format: json | console. Vacío => json.
	Format string `yaml:"format"`
	// DevMode activa stacktraces en warn y encoder legible por humanos.
	DevMode bool `yaml:"dev_mode"`
	// OutputPaths: destinos zap ("stdout", "stderr", rutas de fichero).
	OutputPaths []string `yaml:"output_paths"`
	// InitialFields se añaden a todas las líneas (p.ej. service, env).
	InitialFields map[string]string `yaml:"initial_fields"`
}

func (c Config) build() (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if c.Level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(c.Level))); err != nil {
			return nil, fmt.Errorf("logger: nivel inválido %q: %w", c.Level, err)
		}
	}

	var zc zap.Config
	if c.DevMode {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	switch strings.ToLower(c.Format) {
	case "", "json":
		zc.Encoding = "json"
	case "console":
		zc.Encoding = "console"
	default:
		return nil, fmt.Errorf("logger: formato inválido %q", c.Format)
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if len(c.OutputPaths) > 0 {
		zc.OutputPaths = c.OutputPaths
	}
	if len(c.InitialFields) > 0 {
		zc.InitialFields = make(map[string]interface{}, len(c.InitialFields))
		for k, v := range c.InitialFields {
			zc.InitialFields[k] = v
		}
	}

	return zc.Build(zap.AddCaller())
}
