package middlewares

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/cancerbero/internal/metrics"
)

// WithMetrics cuenta y cronometra cada request con la ruta normalizada:
// los segmentos variables colapsan para no explotar la cardinalidad.
func WithMetrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			path := normalizePath(r.URL.Path)
			metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath colapsa los segmentos dinámicos de las rutas conocidas.
func normalizePath(p string) string {
	if strings.HasPrefix(p, "/v1/auth/tier/") {
		return "/v1/auth/tier/{tier}"
	}
	switch {
	case strings.HasPrefix(p, "/.well-known/"),
		strings.HasPrefix(p, "/oauth2/"),
		strings.HasPrefix(p, "/v1/"),
		p == "/healthz", p == "/readyz", p == "/metrics":
		return p
	}
	return "/other"
}
