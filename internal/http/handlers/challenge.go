package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/cancerbero/internal/hardening"
	"github.com/dropDatabas3/cancerbero/internal/http/middlewares"
	"github.com/dropDatabas3/cancerbero/internal/metrics"
	"github.com/dropDatabas3/cancerbero/internal/security/assertion"
	"github.com/dropDatabas3/cancerbero/internal/websession"
)

type challengeResponse struct {
	Nonce     string `json:"nonce"`
	Challenge string `json:"challenge"`
	ExpiresIn int64  `json:"expires_in"`
}

// NewChallengeHandler atiende GET /v1/auth/challenge: emite el nonce
// anti-replay y el challenge WebAuthn para el ceremony que sigue. La
// emisión consume cuota de la regla challenge; sin ella cualquiera puede
// inflar el nonce store ajeno.
func NewChallengeHandler(m *hardening.Manager, nonceTTL time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, r, http.StatusMethodNotAllowed, "invalid_request", "método no permitido")
			return
		}
		ip := middlewares.ClientIP(r)
		if m != nil && m.Rate != nil {
			d, err := m.Rate.Check(r.Context(), ip, hardening.RuleChallenge)
			if err != nil {
				// backend de conteo caído: se cierra, como el resto de la
				// superficie de autenticación
				WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "límite de tasa no disponible")
				return
			}
			metrics.RecordRateDecision(d.Rule, d.Action.String())
			if d.Action != hardening.ActionAllow {
				retry := int(d.RetryAfter.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "demasiados challenges")
				return
			}
		}

		// el nonce nace atado al endpoint que lo consume
		owner := r.URL.Query().Get("username")
		nonce, err := m.Nonces.Generate(owner, websession.CompleteEndpoint)
		if err != nil {
			WriteError(w, r, http.StatusInternalServerError, "server_error", "emisión de nonce falló")
			return
		}
		challenge, err := assertion.NewChallenge()
		if err != nil {
			WriteError(w, r, http.StatusInternalServerError, "server_error", "emisión de challenge falló")
			return
		}
		WriteJSON(w, http.StatusOK, challengeResponse{
			Nonce:     nonce,
			Challenge: challenge,
			ExpiresIn: int64(nonceTTL.Seconds()),
		})
	}
}
