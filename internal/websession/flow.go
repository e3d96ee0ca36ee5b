package websession

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/guardian"
	"github.com/dropDatabas3/cancerbero/internal/hardening"
	"github.com/dropDatabas3/cancerbero/internal/security/assertion"
	tokens "github.com/dropDatabas3/cancerbero/internal/security/token"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// InitiateRequest son los parámetros de autorización del cliente más el
// username del sujeto (flujo identifier-first, sin password).
type InitiateRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Username            string
}

type InitiateResult struct {
	SessionID string
	Challenge string
	// CredentialIDs registrados, base64url, para allowCredentials del cliente.
	CredentialIDs []string
	ExpiresAt     time.Time
}

// CompleteEndpoint es la ruta pública que recibe la aserción. Los nonces
// del challenge endpoint se emiten atados a ella y se consumen acá.
const CompleteEndpoint = "/v1/webauthn/complete"

type CompleteRequest struct {
	SessionID string
	Assertion []byte
	// Nonce anti-replay emitido por el challenge endpoint; si viene se
	// consume y un reuso bloquea el ceremony.
	Nonce     string
	IP        string
	UserAgent string
}

type CompleteResult struct {
	Code         string
	RiskScore    float64
	UserVerified bool
	ExpiresAt    time.Time
}

type TokenRequest struct {
	SessionID    string
	Code         string
	CodeVerifier string
}

type TokenResult struct {
	AccessToken string
	IDToken     string
	TokenType   string
	ExpiresIn   int64
	Scope       string
}

// Initiate valida los parámetros de autorización, exige que el sujeto tenga
// llaves enroladas y abre la sesión con su challenge WebAuthn.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	client, err := s.clients.Get(ctx, req.ClientID)
	if err != nil || !client.Active {
		return InitiateResult{}, fmt.Errorf("%w: cliente desconocido o inactivo", ErrInvalidParams)
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		return InitiateResult{}, fmt.Errorf("%w: redirect_uri no registrado", ErrInvalidParams)
	}
	scopes := parseScopes(req.Scope)
	if !containsScope(scopes, "openid") {
		return InitiateResult{}, fmt.Errorf("%w: falta el scope openid", ErrInvalidParams)
	}
	for _, sc := range scopes {
		if !client.HasScope(sc) {
			return InitiateResult{}, fmt.Errorf("%w: scope %q no habilitado para el cliente", ErrInvalidParams, sc)
		}
	}
	if req.CodeChallengeMethod != "S256" {
		return InitiateResult{}, fmt.Errorf("%w: sólo se acepta code_challenge_method=S256", ErrInvalidParams)
	}
	if n := len(req.CodeChallenge); n < 43 || n > 128 {
		return InitiateResult{}, fmt.Errorf("%w: code_challenge fuera de rango", ErrInvalidParams)
	}

	// sujeto desconocido, inhabilitado o sin llaves responden igual hacia
	// afuera; el detalle queda en el log
	sub, err := s.subjects.GetByUsername(ctx, req.Username)
	if err != nil {
		s.log.Debug("initiate para sujeto desconocido", zap.String("username", req.Username))
		return InitiateResult{}, ErrNoCredentials
	}
	if !sub.Active {
		s.log.Debug("initiate para sujeto inhabilitado", zap.String("subject", sub.Username))
		return InitiateResult{}, ErrNoCredentials
	}
	keys, err := s.subjects.ListHardwareKeys(ctx, sub.ID)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("websession: listando llaves: %w", err)
	}
	if len(keys) == 0 {
		return InitiateResult{}, ErrNoCredentials
	}

	challenge, err := assertion.NewChallenge()
	if err != nil {
		return InitiateResult{}, fmt.Errorf("websession: generando challenge: %w", err)
	}
	now := s.now()
	sess := &Session{
		ID:            uuid.NewString(),
		State:         StateInitiated,
		ClientID:      client.ID,
		RedirectURI:   req.RedirectURI,
		Scopes:        scopes,
		Subject:       sub.Username,
		SubjectID:     sub.ID,
		Challenge:     challenge,
		Nonce:         req.Nonce,
		CodeChallenge: req.CodeChallenge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.sessionTTL),
	}
	if err := s.saveSession(ctx, sess); err != nil {
		return InitiateResult{}, err
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, base64.RawURLEncoding.EncodeToString(k.CredentialID))
	}
	s.log.Info("sesión web iniciada",
		zap.String("session_id", sess.ID),
		zap.String("client_id", client.ID),
		zap.String("subject", sub.Username),
	)
	return InitiateResult{
		SessionID:     sess.ID,
		Challenge:     challenge,
		CredentialIDs: ids,
		ExpiresAt:     sess.ExpiresAt,
	}, nil
}

// CompleteAuthentication verifica la aserción, consulta el riesgo y, si todo
// pasa, emite el code de un solo uso.
func (s *Service) CompleteAuthentication(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	sess, err := s.loadSession(ctx, req.SessionID)
	if err != nil {
		return CompleteResult{}, err
	}
	if sess.State != StateInitiated {
		return CompleteResult{}, fmt.Errorf("%w: se esperaba %s, hay %s", ErrInvalidState, StateInitiated, sess.State)
	}

	// defensas de borde antes de tocar la aserción: acá se consume el nonce
	// del challenge endpoint; un reuso o un nonce ajeno quema la sesión
	if s.hardening != nil {
		report := s.hardening.ComprehensiveCheck(ctx, hardening.CheckRequest{
			Identifier: req.IP,
			Nonce:      req.Nonce,
			NonceOwner: sess.Subject,
			IP:         req.IP,
			UserAgent:  req.UserAgent,
			Endpoint:   CompleteEndpoint,
			Subject:    sess.Subject,
		})
		if report.Action == hardening.ActionBlock {
			s.fail(ctx, sess)
			s.log.Warn("ceremony bloqueado por defensas de borde",
				zap.String("session_id", sess.ID),
				zap.Strings("reasons", report.Reasons),
			)
			return CompleteResult{}, ErrRequestBlocked
		}
	}

	parsed, err := assertion.Parse(req.Assertion)
	if err != nil {
		s.fail(ctx, sess)
		s.reportAssertionFailure(sess, req.IP, err)
		return CompleteResult{}, fmt.Errorf("%w: %v", ErrAssertionFailed, err)
	}
	keys, err := s.subjects.ListHardwareKeys(ctx, sess.SubjectID)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("websession: listando llaves: %w", err)
	}
	ids := make([][]byte, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.CredentialID)
	}
	ver, err := assertion.Verify(parsed, assertion.Expectations{
		Challenge:               sess.Challenge,
		RPID:                    s.rpID,
		Origins:                 s.origins,
		RequireUserVerification: s.requireUV,
		CredentialIDs:           ids,
	})
	if err != nil {
		s.fail(ctx, sess)
		s.reportAssertionFailure(sess, req.IP, err)
		return CompleteResult{}, fmt.Errorf("%w: %v", ErrAssertionFailed, err)
	}
	if err := s.subjects.SetHardwareKeySignCount(ctx, sess.SubjectID, ver.CredentialID, ver.SignCount); err != nil {
		s.log.Warn("no se pudo persistir el sign count", zap.String("subject", sess.Subject), zap.Error(err))
	}
	sess.UserVerified = ver.UserVerified
	sess.State = StateWebAuthnValidated
	if err := s.saveSession(ctx, sess); err != nil {
		return CompleteResult{}, err
	}

	dec, err := s.assessRisk(ctx, sess, req.IP, req.UserAgent)
	if err != nil {
		s.fail(ctx, sess)
		return CompleteResult{}, err
	}
	sess.RiskScore = dec.RiskScore
	sess.State = StateGuardianAssessed
	if err := s.saveSession(ctx, sess); err != nil {
		return CompleteResult{}, err
	}
	if !dec.Approved || dec.RiskScore >= s.riskThreshold {
		s.fail(ctx, sess)
		s.reportEvent(hardening.SecurityEvent{
			Type:        "websession_risk_blocked",
			ThreatLevel: hardening.ThreatHigh,
			Actor:       sess.Subject,
			Action:      "blocked",
			At:          s.now(),
			Detail:      map[string]any{"session_id": sess.ID, "risk_score": dec.RiskScore, "reason": dec.Reason},
		})
		s.log.Warn("sesión web bloqueada por riesgo",
			zap.String("session_id", sess.ID),
			zap.Float64("risk_score", dec.RiskScore),
			zap.String("reason", dec.Reason),
		)
		return CompleteResult{}, ErrRiskTooHigh
	}

	code, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("websession: generando code: %w", err)
	}
	sess.CodeHash = tokens.SHA256Base64URL(code)
	sess.State = StateCodeIssued
	if err := s.saveSession(ctx, sess); err != nil {
		return CompleteResult{}, err
	}
	s.log.Info("aserción verificada, code emitido",
		zap.String("session_id", sess.ID),
		zap.String("subject", sess.Subject),
		zap.Bool("user_verified", ver.UserVerified),
		zap.Float64("risk_score", dec.RiskScore),
	)
	return CompleteResult{
		Code:         code,
		RiskScore:    dec.RiskScore,
		UserVerified: ver.UserVerified,
		ExpiresAt:    sess.ExpiresAt,
	}, nil
}

// assessRisk consulta al colaborador con presupuesto de tiempo propio. Caído,
// la sesión falla salvo que FailOpen esté prendido.
func (s *Service) assessRisk(ctx context.Context, sess *Session, ip, userAgent string) (guardian.Decision, error) {
	pctx, cancel := context.WithTimeout(ctx, s.policyTimeout)
	defer cancel()
	dec, err := s.guardian.ValidateAction(pctx, guardian.Action{
		Kind:      guardian.KindSessionRisk,
		Subject:   sess.Subject,
		ClientID:  sess.ClientID,
		IP:        ip,
		UserAgent: userAgent,
		SessionID: sess.ID,
	})
	if err != nil {
		if !s.failOpen {
			s.log.Error("evaluación de riesgo indisponible, sesión rechazada",
				zap.String("session_id", sess.ID), zap.Error(err))
			return guardian.Decision{}, ErrPolicyUnavailable
		}
		s.log.Warn("evaluación de riesgo indisponible, se continúa sin score",
			zap.String("session_id", sess.ID), zap.Error(err))
		return guardian.Decision{Approved: true}, nil
	}
	return dec, nil
}

// GenerateTokens canjea el code exactamente una vez por el par de tokens y
// borra la sesión. La sesión sale del cache con un Take atómico antes de
// cualquier chequeo: dos canjes concurrentes del mismo code ven exactamente
// una sesión.
func (s *Service) GenerateTokens(ctx context.Context, req TokenRequest) (TokenResult, error) {
	sess, err := s.takeSession(ctx, req.SessionID)
	if err != nil {
		return TokenResult{}, err
	}
	if sess.State != StateCodeIssued {
		// la transición inválida no consume la sesión
		if serr := s.saveSession(ctx, sess); serr != nil {
			s.log.Warn("no se pudo reponer la sesión", zap.String("session_id", sess.ID), zap.Error(serr))
		}
		return TokenResult{}, fmt.Errorf("%w: se esperaba %s, hay %s", ErrInvalidState, StateCodeIssued, sess.State)
	}
	// code o verifier equivocados queman la sesión: quien interceptó el code
	// no obtiene reintentos
	if req.Code == "" || !tokens.Equal(tokens.SHA256Base64URL(req.Code), sess.CodeHash) {
		s.fail(ctx, sess)
		return TokenResult{}, ErrCodeMismatch
	}
	if n := len(req.CodeVerifier); n < 43 || n > 128 ||
		!tokens.Equal(tokens.SHA256Base64URL(req.CodeVerifier), sess.CodeChallenge) {
		s.fail(ctx, sess)
		return TokenResult{}, ErrPKCEFailed
	}

	sub, err := s.subjects.Get(ctx, sess.SubjectID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.fail(ctx, sess)
			return TokenResult{}, ErrSubjectDisabled
		}
		// falla transitoria del store: la sesión vuelve para el reintento
		if serr := s.saveSession(ctx, sess); serr != nil {
			s.log.Warn("no se pudo reponer la sesión", zap.String("session_id", sess.ID), zap.Error(serr))
		}
		return TokenResult{}, fmt.Errorf("websession: leyendo sujeto: %w", err)
	}
	if !sub.Active {
		s.fail(ctx, sess)
		return TokenResult{}, ErrSubjectDisabled
	}

	now := s.now()
	exp := now.Add(s.accessTTL)
	jti := uuid.NewString()
	scope := strings.Join(sess.Scopes, " ")
	access, err := s.codec.Issue(map[string]any{
		"iss":            s.issuer,
		"sub":            sub.Username,
		"aud":            s.audience,
		"iat":            now.Unix(),
		"nbf":            now.Unix(),
		"exp":            exp.Unix(),
		"jti":            jti,
		"azp":            sess.ClientID,
		"scope":          scope,
		token.ClaimNS:    sub.Namespace,
		token.ClaimPerms: sub.Permissions,
		token.ClaimAMR:   []string{"hwk"},
		"uv":             sess.UserVerified,
		"risk_score":     sess.RiskScore,
	}, "")
	if err != nil {
		if serr := s.saveSession(ctx, sess); serr != nil {
			s.log.Warn("no se pudo reponer la sesión", zap.String("session_id", sess.ID), zap.Error(serr))
		}
		return TokenResult{}, fmt.Errorf("websession: firmando access token: %w", err)
	}

	idClaims := map[string]any{
		"iss":          s.issuer,
		"sub":          sub.Username,
		"aud":          sess.ClientID,
		"iat":          now.Unix(),
		"exp":          now.Add(s.idTokenTTL).Unix(),
		"azp":          sess.ClientID,
		"auth_time":    sess.CreatedAt.Unix(),
		token.ClaimAMR: []string{"hwk"},
		"uv":           sess.UserVerified,
		"risk_score":   sess.RiskScore,
	}
	if sess.Nonce != "" {
		idClaims["nonce"] = sess.Nonce
	}
	idToken, err := s.codec.Issue(idClaims, "")
	if err != nil {
		if serr := s.saveSession(ctx, sess); serr != nil {
			s.log.Warn("no se pudo reponer la sesión", zap.String("session_id", sess.ID), zap.Error(serr))
		}
		return TokenResult{}, fmt.Errorf("websession: firmando id token: %w", err)
	}

	// token_issued es terminal: la sesión ya salió del cache con el Take,
	// el code no se canjea dos veces
	s.log.Info("par de tokens emitido",
		zap.String("session_id", sess.ID),
		zap.String("subject", sub.Username),
		zap.String("client_id", sess.ClientID),
		zap.String("jti", jti),
	)
	return TokenResult{
		AccessToken: access,
		IDToken:     idToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
		Scope:       scope,
	}, nil
}

func (s *Service) reportAssertionFailure(sess *Session, ip string, cause error) {
	s.reportEvent(hardening.SecurityEvent{
		Type:        "websession_assertion_failed",
		ThreatLevel: hardening.ThreatMedium,
		Actor:       sess.Subject,
		Action:      "rejected",
		At:          s.now(),
		Detail:      map[string]any{"session_id": sess.ID, "ip": ip, "cause": cause.Error()},
	})
}

func parseScopes(raw string) []string {
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !containsScope(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
