package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/cache"
	tokens "github.com/dropDatabas3/cancerbero/internal/security/token"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/validation"
)

// AuthorizeRequest es el request de /oauth2/authorize más la identidad ya
// acreditada en el borde (vacía si nadie está logueado).
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string

	Subject string // username autenticado en la sesión
	Tier    int
	AMR     []string
}

// Outcome clasifica el desenlace de una autorización.
type Outcome string

const (
	OutcomeRedirect     Outcome = "redirect"     // code emitido, redirigir
	OutcomeAuthenticate Outcome = "authenticate" // falta login
	OutcomeConsent      Outcome = "consent"      // faltan scopes por aprobar
	OutcomeError        Outcome = "error"
)

// AuthorizeResult es el desenlace estructurado. CanRedirect marca si un
// error puede viajar por redirect: sólo cuando cliente y redirect URI ya
// quedaron verificados. Nunca se redirige a una URI no registrada.
type AuthorizeResult struct {
	Outcome     Outcome
	Code        string
	State       string
	RedirectURI string
	Scopes      []string
	ErrorCode   string
	ErrorDesc   string
	CanRedirect bool
}

// authCode es lo que se guarda (bajo el hash del code) hasta el canje.
type authCode struct {
	ClientID      string   `json:"client_id"`
	RedirectURI   string   `json:"redirect_uri"`
	Subject       string   `json:"subject"`
	Scopes        []string `json:"scopes"`
	Nonce         string   `json:"nonce,omitempty"`
	CodeChallenge string   `json:"code_challenge"`
	Tier          int      `json:"tier,omitempty"`
	AMR           []string `json:"amr,omitempty"`
	IssuedAt      int64    `json:"iat"`
}

// usedCode es la lápida que queda tras el canje para detectar replay y
// poder revocar lo emitido con ese code.
type usedCode struct {
	AccessJTI   string `json:"access_jti"`
	AccessExp   int64  `json:"access_exp"`
	RefreshHash string `json:"refresh_hash,omitempty"`
}

func codeKey(hash string) string     { return "oidc:code:" + hash }
func usedCodeKey(hash string) string { return "oidc:code:used:" + hash }

// Authorize corre la validación completa del authorization request y decide
// el desenlace: error directo (cliente/URI sin verificar), error por
// redirect, login pendiente, consentimiento pendiente o code emitido.
func (p *Provider) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	// hasta no verificar cliente y URI, los errores se responden directo
	client, err := p.clients.Get(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return directError("invalid_request", "cliente desconocido"), nil
		}
		return AuthorizeResult{}, fmt.Errorf("oidc: client lookup: %w", err)
	}
	if !client.Active {
		return directError("invalid_request", "cliente inhabilitado"), nil
	}
	if req.RedirectURI == "" || !client.HasRedirectURI(req.RedirectURI) {
		return directError("invalid_request", "redirect_uri no registrada"), nil
	}

	// de acá en más el cliente es legítimo: los errores viajan por redirect
	fail := func(code, desc string) AuthorizeResult {
		return AuthorizeResult{
			Outcome:     OutcomeError,
			ErrorCode:   code,
			ErrorDesc:   desc,
			State:       req.State,
			RedirectURI: req.RedirectURI,
			CanRedirect: true,
		}
	}

	if req.ResponseType != "code" {
		return fail("unsupported_response_type", "sólo se soporta response_type=code"), nil
	}

	scopes := ParseScopes(req.Scope)
	if len(scopes) == 0 || !containsScope(scopes, "openid") {
		return fail("invalid_scope", "el scope openid es obligatorio"), nil
	}
	for _, s := range scopes {
		if !validation.ValidScopeName(s) {
			return fail("invalid_scope", "scope con formato inválido"), nil
		}
		if !client.HasScope(s) {
			return fail("invalid_scope", "scope no habilitado: "+s), nil
		}
	}

	if req.CodeChallenge == "" {
		return fail("invalid_request", "PKCE es obligatorio (code_challenge)"), nil
	}
	if req.CodeChallengeMethod != "S256" {
		return fail("invalid_request", "sólo se acepta code_challenge_method=S256"), nil
	}
	if l := len(req.CodeChallenge); l < 43 || l > 128 {
		return fail("invalid_request", "code_challenge fuera de formato"), nil
	}

	if req.Subject == "" {
		return AuthorizeResult{Outcome: OutcomeAuthenticate, State: req.State, Scopes: scopes}, nil
	}
	subject, err := p.subjects.GetByUsername(ctx, req.Subject)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return AuthorizeResult{Outcome: OutcomeAuthenticate, State: req.State, Scopes: scopes}, nil
		}
		return AuthorizeResult{}, fmt.Errorf("oidc: subject lookup: %w", err)
	}
	if !subject.Active {
		return AuthorizeResult{Outcome: OutcomeAuthenticate, State: req.State, Scopes: scopes}, nil
	}

	if client.RequireConsent {
		grant, err := p.grants.Get(ctx, subject.ID, client.ID)
		switch {
		case err == nil && grant.Covers(scopes):
			// consentimiento previo vigente
		case err != nil && !errors.Is(err, core.ErrNotFound):
			return AuthorizeResult{}, fmt.Errorf("oidc: grant lookup: %w", err)
		default:
			return AuthorizeResult{Outcome: OutcomeConsent, State: req.State, Scopes: scopes}, nil
		}
	}

	code, err := p.issueCode(ctx, authCode{
		ClientID:      client.ID,
		RedirectURI:   req.RedirectURI,
		Subject:       subject.Username,
		Scopes:        scopes,
		Nonce:         req.Nonce,
		CodeChallenge: req.CodeChallenge,
		Tier:          req.Tier,
		AMR:           req.AMR,
		IssuedAt:      p.now().Unix(),
	})
	if err != nil {
		return AuthorizeResult{}, err
	}

	p.log.Info("authorization code emitido",
		zap.String("client_id", client.ID),
		zap.String("subject", subject.Username),
		zap.Strings("scopes", scopes),
	)
	return AuthorizeResult{
		Outcome:     OutcomeRedirect,
		Code:        code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
		Scopes:      scopes,
		CanRedirect: true,
	}, nil
}

// RecordConsent persiste la aprobación de scopes del sujeto hacia el
// cliente; la próxima autorización con esos scopes ya no pide consent.
func (p *Provider) RecordConsent(ctx context.Context, username, clientID string, scopes []string) error {
	s, err := p.subjects.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("oidc: subject lookup: %w", err)
	}
	return p.grants.Put(ctx, core.Grant{
		SubjectID: s.ID,
		ClientID:  clientID,
		Scopes:    scopes,
		GrantedAt: p.now(),
	})
}

func (p *Provider) issueCode(ctx context.Context, ac authCode) (string, error) {
	code, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return "", fmt.Errorf("oidc: generar code: %w", err)
	}
	raw, err := json.Marshal(ac)
	if err != nil {
		return "", fmt.Errorf("oidc: marshal code: %w", err)
	}
	key := codeKey(tokens.SHA256Base64URL(code))
	if err := p.cache.Set(ctx, key, string(raw), p.codeTTL); err != nil {
		return "", fmt.Errorf("oidc: guardar code: %w", err)
	}
	return code, nil
}

// consumeCode canjea el code exactamente una vez. El retiro es un Take
// atómico del cache: dos canjes concurrentes del mismo code ven exactamente
// un registro. Un code ausente con lápida presente es replay: se revoca lo
// emitido en el primer canje.
func (p *Provider) consumeCode(ctx context.Context, code string) (authCode, error) {
	hash := tokens.SHA256Base64URL(code)
	raw, err := p.cache.Take(ctx, codeKey(hash))
	if err != nil {
		if cache.IsNotFound(err) {
			p.punishCodeReplay(ctx, hash)
			return authCode{}, ErrInvalidGrant.withDescription("authorization code inválido o ya usado")
		}
		return authCode{}, fmt.Errorf("oidc: leer code: %w", err)
	}

	var ac authCode
	if err := json.Unmarshal([]byte(raw), &ac); err != nil {
		return authCode{}, fmt.Errorf("oidc: unmarshal code: %w", err)
	}
	return ac, nil
}

// punishCodeReplay revoca todo lo emitido por un code reutilizado: el
// access por jti y el refresh por hash.
func (p *Provider) punishCodeReplay(ctx context.Context, hash string) {
	raw, err := p.cache.Get(ctx, usedCodeKey(hash))
	if err != nil {
		return // nunca se canjeó: code simplemente inválido
	}
	var uc usedCode
	if err := json.Unmarshal([]byte(raw), &uc); err != nil {
		return
	}

	p.log.Warn("reutilización de authorization code detectada, revocando lo emitido",
		zap.String("access_jti", uc.AccessJTI),
	)
	if uc.AccessJTI != "" {
		until := time.Unix(uc.AccessExp, 0).Add(2 * time.Minute)
		if err := p.codec.RevokeJTI(ctx, uc.AccessJTI, until); err != nil {
			p.log.Error("revocación por replay falló", zap.Error(err))
		}
	}
	if uc.RefreshHash != "" {
		if err := p.cache.Delete(ctx, refreshKey(uc.RefreshHash)); err != nil {
			p.log.Error("borrado de refresh por replay falló", zap.Error(err))
		}
	}
}

// ParseScopes separa un scope string por espacios, sin vacíos ni repetidos.
func ParseScopes(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
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

func directError(code, desc string) AuthorizeResult {
	return AuthorizeResult{Outcome: OutcomeError, ErrorCode: code, ErrorDesc: desc}
}
