package middlewares

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/observability/logger"
	"github.com/dropDatabas3/cancerbero/internal/rate"
)

// RateLimitConfig arma el middleware de cuota por clave.
type RateLimitConfig struct {
	Limiter   rate.Limiter
	KeyFunc   func(r *http.Request) string
	Whitelist []string
}

// IPPathRateKey agrupa la cuota por IP de cliente y ruta.
func IPPathRateKey(r *http.Request) string {
	return ClientIP(r) + "|" + r.URL.Path
}

// WithRateLimit corta con 429 cuando la clave agotó su cuota. Si el
// limiter falla (backend caído) la request pasa: la cuota es una
// defensa, no un punto único de fallo.
func WithRateLimit(cfg RateLimitConfig) Middleware {
	keyFn := cfg.KeyFunc
	if keyFn == nil {
		keyFn = IPPathRateKey
	}
	allow := make(map[string]struct{}, len(cfg.Whitelist))
	for _, ip := range cfg.Whitelist {
		allow[ip] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allow[ClientIP(r)]; ok {
				next.ServeHTTP(w, r)
				return
			}
			res, err := cfg.Limiter.Allow(r.Context(), keyFn(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter no disponible, dejando pasar",
					logger.Path(r.URL.Path), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				retry := int(res.RetryAfter.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("X-RateLimit-Remaining", "0")
				logger.From(r.Context()).Warn("request frenada por cuota",
					logger.Path(r.URL.Path),
					zap.String("remote_ip", ClientIP(r)),
				)
				writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", GetRequestID(r.Context()))
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}
