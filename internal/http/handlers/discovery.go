package handlers

import (
	"net/http"

	"github.com/dropDatabas3/cancerbero/internal/oidc"
)

// NewDiscoveryHandler sirve /.well-known/openid-configuration con ETag por
// contenido: los relying parties revalidan barato con If-None-Match.
func NewDiscoveryHandler(p *oidc.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			WriteError(w, r, http.StatusMethodNotAllowed, "invalid_request", "método no permitido")
			return
		}
		doc, hash, err := p.Discovery()
		if err != nil {
			WriteError(w, r, http.StatusInternalServerError, "server_error", "discovery no disponible")
			return
		}
		etag := `"` + hash + `"`
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}
