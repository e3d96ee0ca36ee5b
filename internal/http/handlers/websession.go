package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dropDatabas3/cancerbero/internal/http/middlewares"
	"github.com/dropDatabas3/cancerbero/internal/metrics"
	"github.com/dropDatabas3/cancerbero/internal/websession"
)

type wsInitiateRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	Nonce               string `json:"nonce,omitempty"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	Username            string `json:"username"`
}

type wsInitiateResponse struct {
	SessionID     string   `json:"session_id"`
	Challenge     string   `json:"challenge"`
	CredentialIDs []string `json:"credential_ids,omitempty"`
	ExpiresAt     int64    `json:"expires_at"`
}

// NewWSInitiateHandler abre el ceremony WebAuthn-sobre-OIDC.
func NewWSInitiateHandler(s *websession.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, r, http.StatusMethodNotAllowed, "invalid_request", "método no permitido")
			return
		}
		var req wsInitiateRequest
		if !readStrictJSON(w, r, &req) {
			return
		}
		res, err := s.Initiate(r.Context(), websession.InitiateRequest{
			ClientID:            req.ClientID,
			RedirectURI:         req.RedirectURI,
			Scope:               req.Scope,
			Nonce:               req.Nonce,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			Username:            req.Username,
		})
		if err != nil {
			writeWSError(w, r, err)
			return
		}
		metrics.RecordSessionTransition(string(websession.StateInitiated))
		WriteJSON(w, http.StatusOK, wsInitiateResponse{
			SessionID:     res.SessionID,
			Challenge:     res.Challenge,
			CredentialIDs: res.CredentialIDs,
			ExpiresAt:     res.ExpiresAt.Unix(),
		})
	}
}

type wsCompleteRequest struct {
	SessionID string          `json:"session_id"`
	Assertion json.RawMessage `json:"assertion"`
	Nonce     string          `json:"nonce,omitempty"`
}

type wsCompleteResponse struct {
	Code         string  `json:"code"`
	RiskScore    float64 `json:"risk_score"`
	UserVerified bool    `json:"user_verified"`
	ExpiresAt    int64   `json:"expires_at"`
}

// NewWSCompleteHandler valida la aserción de la llave y, si el riesgo lo
// permite, emite el authorization code de un solo uso.
func NewWSCompleteHandler(s *websession.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, r, http.StatusMethodNotAllowed, "invalid_request", "método no permitido")
			return
		}
		var req wsCompleteRequest
		if !readStrictJSON(w, r, &req) {
			return
		}
		res, err := s.CompleteAuthentication(r.Context(), websession.CompleteRequest{
			SessionID: req.SessionID,
			Assertion: req.Assertion,
			Nonce:     req.Nonce,
			IP:        middlewares.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			writeWSError(w, r, err)
			return
		}
		metrics.RecordSessionTransition(string(websession.StateCodeIssued))
		WriteJSON(w, http.StatusOK, wsCompleteResponse{
			Code:         res.Code,
			RiskScore:    res.RiskScore,
			UserVerified: res.UserVerified,
			ExpiresAt:    res.ExpiresAt.Unix(),
		})
	}
}

type wsTokenRequest struct {
	SessionID    string `json:"session_id"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

type wsTokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token,omitempty"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// NewWSTokenHandler canjea el code del ceremony por el par de tokens y
// quema la sesión.
func NewWSTokenHandler(s *websession.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, r, http.StatusMethodNotAllowed, "invalid_request", "método no permitido")
			return
		}
		var req wsTokenRequest
		if !readStrictJSON(w, r, &req) {
			return
		}
		res, err := s.GenerateTokens(r.Context(), websession.TokenRequest{
			SessionID:    req.SessionID,
			Code:         req.Code,
			CodeVerifier: req.CodeVerifier,
		})
		if err != nil {
			writeWSError(w, r, err)
			return
		}
		metrics.RecordSessionTransition(string(websession.StateTokenIssued))
		metrics.RecordIssued("websession")
		WriteJSON(w, http.StatusOK, wsTokenResponse{
			AccessToken: res.AccessToken,
			IDToken:     res.IDToken,
			TokenType:   res.TokenType,
			ExpiresIn:   res.ExpiresIn,
			Scope:       res.Scope,
		})
	}
}

// writeWSError traduce los errores del ceremony a status + reason estable.
// El detalle interno no viaja al cliente.
func writeWSError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, websession.ErrSessionNotFound):
		WriteError(w, r, http.StatusNotFound, "invalid_session", "sesión inexistente")
	case errors.Is(err, websession.ErrSessionExpired):
		WriteError(w, r, http.StatusGone, "session_expired", "la sesión expiró")
	case errors.Is(err, websession.ErrInvalidState):
		WriteError(w, r, http.StatusConflict, "invalid_state", "transición inválida")
	case errors.Is(err, websession.ErrInvalidParams):
		WriteError(w, r, http.StatusBadRequest, "invalid_request", "parámetros inválidos")
	case errors.Is(err, websession.ErrNoCredentials):
		WriteError(w, r, http.StatusBadRequest, "no_credentials", "el sujeto no tiene llaves registradas")
	case errors.Is(err, websession.ErrAssertionFailed):
		WriteError(w, r, http.StatusUnauthorized, "invalid_assertion", "la aserción no verificó")
	case errors.Is(err, websession.ErrRiskTooHigh):
		WriteError(w, r, http.StatusForbidden, "risk_too_high", "riesgo por encima del umbral")
	case errors.Is(err, websession.ErrRequestBlocked):
		WriteError(w, r, http.StatusForbidden, "request_blocked", "request bloqueado")
	case errors.Is(err, websession.ErrSubjectDisabled):
		WriteError(w, r, http.StatusForbidden, "subject_disabled", "sujeto inhabilitado")
	case errors.Is(err, websession.ErrPolicyUnavailable):
		WriteError(w, r, http.StatusServiceUnavailable, "policy_unavailable", "evaluación de riesgo no disponible")
	case errors.Is(err, websession.ErrCodeMismatch), errors.Is(err, websession.ErrPKCEFailed):
		WriteError(w, r, http.StatusBadRequest, "invalid_grant", "code o verifier inválidos")
	default:
		WriteError(w, r, http.StatusInternalServerError, "server_error", "error interno")
	}
}
