package handlers

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/cancerbero/internal/oidc"
)

// NewIntrospectHandler atiende /oauth2/introspect (RFC 7662), sólo para
// clientes confidenciales autenticados.
func NewIntrospectHandler(p *oidc.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, r, http.StatusMethodNotAllowed, "invalid_request", "método no permitido")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			WriteError(w, r, http.StatusBadRequest, "invalid_request", "form inválido")
			return
		}
		clientID, clientSecret := clientCredentials(r)

		in, err := p.Introspect(r.Context(), clientID, clientSecret, r.PostFormValue("token"))
		if err != nil {
			var oe *oidc.Error
			if errors.As(err, &oe) {
				WriteError(w, r, oe.Status, oe.Code, oe.Description)
				return
			}
			WriteError(w, r, http.StatusInternalServerError, "server_error", "introspección no disponible")
			return
		}
		WriteJSON(w, http.StatusOK, in)
	}
}
