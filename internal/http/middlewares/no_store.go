package middlewares

import "net/http"

// WithNoStore marca la respuesta como no cacheable. Obligatorio en
// endpoints que devuelven tokens o datos de sujeto.
func WithNoStore() Middleware {
	return WithCacheControl("no-store")
}

// WithCacheControl fija un Cache-Control explícito.
func WithCacheControl(directive string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", directive)
			if directive == "no-store" {
				w.Header().Set("Pragma", "no-cache")
			}
			next.ServeHTTP(w, r)
		})
	}
}
