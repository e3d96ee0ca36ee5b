package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/cancerbero/internal/cache"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
)

// NewHealthzHandler responde vivo sin tocar dependencias.
func NewHealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewReadyzHandler responde listo sólo si store y cache contestan el ping.
func NewReadyzHandler(st core.Store, c cache.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"store": "ok", "cache": "ok"}
		ready := true
		if st != nil {
			if err := st.Ping(ctx); err != nil {
				checks["store"] = err.Error()
				ready = false
			}
		}
		if c != nil {
			if err := c.Ping(ctx); err != nil {
				checks["cache"] = err.Error()
				ready = false
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		WriteJSON(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}
