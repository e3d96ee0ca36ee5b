package middlewares

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/observability/logger"
)

// WithRecover atrapa pánicos del handler y responde 500 sin tirar el
// proceso. El pánico se loggea con el logger del request.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("pánico en handler HTTP",
						zap.Any("panic", rec),
						logger.Method(r.Method),
						logger.Path(r.URL.Path),
					)
					writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal server error", GetRequestID(r.Context()))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
