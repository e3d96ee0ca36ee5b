package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/cancerbero/internal/http/middlewares"
	"github.com/dropDatabas3/cancerbero/internal/metrics"
	"github.com/dropDatabas3/cancerbero/internal/tiered"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// tierRequest es el body de POST /v1/auth/tier/{tier}. Cada tier usa su
// campo de credencial; el resto viaja vacío.
type tierRequest struct {
	Username  string          `json:"username,omitempty"`
	Password  string          `json:"password,omitempty"`
	TOTPCode  string          `json:"totp_code,omitempty"`
	Assertion json.RawMessage `json:"assertion,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	Biometric *biometricDTO   `json:"biometric,omitempty"`
}

type biometricDTO struct {
	DeviceID   string  `json:"device_id"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	Liveness   bool    `json:"liveness"`
}

type tierResponse struct {
	Tier      int      `json:"tier"`
	OK        bool     `json:"ok"`
	Reason    string   `json:"reason,omitempty"`
	Subject   string   `json:"subject,omitempty"`
	Token     string   `json:"token,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	ExpiresAt int64    `json:"expires_at,omitempty"`
	AMR       []string `json:"amr,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// NewTierHandler atiende POST /v1/auth/tier/{tier}. La elevación se
// acredita con el bearer del tier anterior: el token vigente aporta
// ExistingTier y el camino amr; sin él, sólo T1 y T2 son alcanzables.
func NewTierHandler(a *tiered.Authenticator, codec *token.Codec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(chi.URLParam(r, "tier"))
		if err != nil || n < tiered.T1 || n > tiered.T5 {
			WriteError(w, r, http.StatusNotFound, "invalid_request", "tier desconocido")
			return
		}
		var req tierRequest
		if !readStrictJSON(w, r, &req) {
			return
		}

		ac := tiered.AuthContext{
			Tier:          n,
			Username:      req.Username,
			IP:            middlewares.ClientIP(r),
			UserAgent:     r.UserAgent(),
			CorrelationID: middlewares.GetRequestID(r.Context()),
			At:            time.Now(),
			Password:      req.Password,
			TOTPCode:      req.TOTPCode,
			Assertion:     req.Assertion,
			Challenge:     req.Challenge,
		}
		if req.Biometric != nil {
			ac.Biometric = &tiered.BiometricAttestation{
				DeviceID:   req.Biometric.DeviceID,
				Method:     req.Biometric.Method,
				Confidence: req.Biometric.Confidence,
				Liveness:   req.Biometric.Liveness,
			}
		}
		// El bearer sólo acredita elevación para su propio sujeto.
		if sub, existing, amr := identityFromBearer(r, codec); sub != "" {
			if ac.Username == "" {
				ac.Username = sub
			}
			if ac.Username == sub {
				ac.ExistingTier = existing
				ac.ExistingAMR = amr
			}
		}

		res := a.Authenticate(r.Context(), ac)
		outcome := "ok"
		if !res.OK {
			outcome = res.Reason
		}
		metrics.ObserveAuth(n, outcome, res.Latency)

		if !res.OK {
			WriteJSON(w, tierStatus(res.Reason), tierResponse{
				Tier:      n,
				Reason:    res.Reason,
				RequestID: middlewares.GetRequestID(r.Context()),
			})
			return
		}
		metrics.RecordIssued("tier")
		WriteJSON(w, http.StatusOK, tierResponse{
			Tier:      n,
			OK:        true,
			Subject:   res.Subject,
			Token:     res.Token,
			TokenType: "Bearer",
			ExpiresAt: res.ExpiresAt.Unix(),
			AMR:       res.Path,
		})
	}
}

// tierStatus mapea la razón de fallo al status HTTP. Los reason codes son
// el contrato; el status es sólo transporte.
func tierStatus(reason string) int {
	switch reason {
	case tiered.ReasonMissingCredentials:
		return http.StatusBadRequest
	case tiered.ReasonRateLimited:
		return http.StatusTooManyRequests
	case tiered.ReasonAccountLocked:
		return http.StatusLocked
	case tiered.ReasonPolicyBlocked:
		return http.StatusForbidden
	case tiered.ReasonInternal:
		return http.StatusInternalServerError
	}
	if strings.HasPrefix(reason, "requires_t") {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}
