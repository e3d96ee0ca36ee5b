package handlers

import (
	"net/http"

	"github.com/dropDatabas3/cancerbero/internal/oidc"
)

// NewJWKSHandler publica la identidad de las claves del ring. Con claves
// simétricas el set lleva kid/alg/use y nada más.
func NewJWKSHandler(p *oidc.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			WriteError(w, r, http.StatusMethodNotAllowed, "invalid_request", "método no permitido")
			return
		}
		WriteJSON(w, http.StatusOK, p.KeySet())
	}
}
