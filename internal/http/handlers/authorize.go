package handlers

import (
	"net/http"
	"net/url"

	"github.com/dropDatabas3/cancerbero/internal/oidc"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// NewAuthorizeHandler atiende /oauth2/authorize. La identidad del sujeto
// llega por bearer opcional: sin login el desenlace es login_required y el
// cliente vuelve a intentar después de autenticar. Los errores sólo viajan
// por redirect cuando cliente y redirect_uri ya quedaron verificados.
func NewAuthorizeHandler(p *oidc.Provider, codec *token.Codec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, r, http.StatusMethodNotAllowed, "invalid_request", "método no permitido")
			return
		}
		q := r.URL.Query()
		req := oidc.AuthorizeRequest{
			ResponseType:        q.Get("response_type"),
			ClientID:            q.Get("client_id"),
			RedirectURI:         q.Get("redirect_uri"),
			Scope:               q.Get("scope"),
			State:               q.Get("state"),
			Nonce:               q.Get("nonce"),
			CodeChallenge:       q.Get("code_challenge"),
			CodeChallengeMethod: q.Get("code_challenge_method"),
		}
		req.Subject, req.Tier, req.AMR = identityFromBearer(r, codec)

		res, err := p.Authorize(r.Context(), req)
		if err != nil {
			WriteError(w, r, http.StatusInternalServerError, "server_error", "autorización no disponible")
			return
		}

		switch res.Outcome {
		case oidc.OutcomeRedirect:
			redirect(w, r, res.RedirectURI, url.Values{
				"code":  {res.Code},
				"state": {res.State},
			})
		case oidc.OutcomeAuthenticate:
			redirect(w, r, req.RedirectURI, errorParams("login_required", "hace falta autenticación", res.State))
		case oidc.OutcomeConsent:
			redirect(w, r, req.RedirectURI, errorParams("consent_required", "faltan scopes por aprobar", res.State))
		default:
			if res.CanRedirect {
				redirect(w, r, res.RedirectURI, errorParams(res.ErrorCode, res.ErrorDesc, res.State))
				return
			}
			WriteError(w, r, http.StatusBadRequest, res.ErrorCode, res.ErrorDesc)
		}
	}
}

func errorParams(code, desc, state string) url.Values {
	v := url.Values{"error": {code}}
	if desc != "" {
		v.Set("error_description", desc)
	}
	if state != "" {
		v.Set("state", state)
	}
	return v
}

// redirect arma la URL final preservando los query params que la redirect
// URI ya tuviera registrados.
func redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	u, err := url.Parse(target)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_request", "redirect_uri inválida")
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				q.Set(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
