package handlers

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/cancerbero/internal/metrics"
	"github.com/dropDatabas3/cancerbero/internal/oidc"
)

// NewTokenHandler atiende /oauth2/token. Las credenciales del cliente
// llegan por basic auth o por el form; basic gana si vienen ambas.
func NewTokenHandler(p *oidc.Provider) http.HandlerFunc {
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

		req := oidc.TokenRequest{
			GrantType:    r.PostFormValue("grant_type"),
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: r.PostFormValue("code_verifier"),
			RefreshToken: r.PostFormValue("refresh_token"),
		}
		req.ClientID, req.ClientSecret = clientCredentials(r)
		_, _, usedBasic := r.BasicAuth()

		resp, err := p.Exchange(r.Context(), req)
		if err != nil {
			metrics.RecordGrant(req.GrantType, "error")
			writeOAuthError(w, r, err, usedBasic)
			return
		}
		metrics.RecordGrant(req.GrantType, "ok")
		metrics.RecordIssued(req.GrantType)
		WriteJSON(w, http.StatusOK, resp)
	}
}

// writeOAuthError traduce un error del provider al formato RFC 6749. Si el
// cliente se autenticó por basic, el 401 lleva el challenge correspondiente.
func writeOAuthError(w http.ResponseWriter, r *http.Request, err error, usedBasic bool) {
	var oe *oidc.Error
	if !errors.As(err, &oe) {
		WriteError(w, r, http.StatusInternalServerError, "server_error", "error interno")
		return
	}
	if oe.Status == http.StatusUnauthorized && usedBasic {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	}
	WriteError(w, r, oe.Status, oe.Code, oe.Description)
}
