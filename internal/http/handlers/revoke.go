package handlers

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/cancerbero/internal/metrics"
	"github.com/dropDatabas3/cancerbero/internal/oidc"
)

// NewRevokeHandler atiende /oauth2/revoke (RFC 7009). El único error
// visible es la autenticación del cliente: tokens desconocidos responden
// 200 igual para no regalar un oráculo de validez.
func NewRevokeHandler(p *oidc.Provider) http.HandlerFunc {
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

		err := p.Revoke(r.Context(), clientID, clientSecret,
			r.PostFormValue("token"), r.PostFormValue("token_type_hint"))
		if err != nil {
			var oe *oidc.Error
			if errors.As(err, &oe) {
				WriteError(w, r, oe.Status, oe.Code, oe.Description)
				return
			}
			WriteError(w, r, http.StatusInternalServerError, "server_error", "revocación no disponible")
			return
		}
		metrics.RecordRevocation("client")
		w.WriteHeader(http.StatusOK)
	}
}

// clientCredentials unifica basic auth y credenciales del form.
func clientCredentials(r *http.Request) (id, secret string) {
	if bid, bsecret, ok := r.BasicAuth(); ok {
		return bid, bsecret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}
