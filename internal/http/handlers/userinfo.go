package handlers

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/cancerbero/internal/oidc"
)

// NewUserinfoHandler atiende /oauth2/userinfo por GET o POST. El access
// token llega como bearer o, en POST, como access_token del form.
func NewUserinfoHandler(p *oidc.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			WriteError(w, r, http.StatusMethodNotAllowed, "invalid_request", "método no permitido")
			return
		}
		raw := bearerToken(r)
		if raw == "" && r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := r.ParseForm(); err == nil {
				raw = r.PostFormValue("access_token")
			}
		}

		claims, err := p.Userinfo(r.Context(), raw)
		if err != nil {
			var oe *oidc.Error
			if errors.As(err, &oe) {
				if oe.Status == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				}
				WriteError(w, r, oe.Status, oe.Code, oe.Description)
				return
			}
			WriteError(w, r, http.StatusInternalServerError, "server_error", "userinfo no disponible")
			return
		}
		WriteJSON(w, http.StatusOK, claims)
	}
}
