package handlers

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/cancerbero/internal/http/middlewares"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// bearerToken extrae el token del header Authorization, o "" si no viene
// con esquema Bearer.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// identityFromBearer valida el bearer opcional del request y devuelve la
// identidad acreditada. Un token ausente o inválido no es error acá: el
// request sigue anónimo y el endpoint decide qué exigir.
func identityFromBearer(r *http.Request, codec *token.Codec) (subject string, tier int, amr []string) {
	raw := bearerToken(r)
	if raw == "" {
		return "", 0, nil
	}
	vr := codec.Validate(r.Context(), raw, token.Context{
		IP:        middlewares.ClientIP(r),
		UserAgent: r.UserAgent(),
		Endpoint:  r.URL.Path,
	})
	if !vr.Valid {
		return "", 0, nil
	}
	return vr.Subject, vr.Tier, amrClaim(vr.Claims)
}

func amrClaim(claims map[string]any) []string {
	switch v := claims[token.ClaimAMR].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
