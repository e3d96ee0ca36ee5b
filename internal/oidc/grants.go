package oidc

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/cache"
	"github.com/dropDatabas3/cancerbero/internal/security/password"
	tokens "github.com/dropDatabas3/cancerbero/internal/security/token"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// TokenRequest es el form de /oauth2/token ya parseado. Las credenciales
// del cliente llegan por basic auth o por el body, el handler las unifica.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// TokenResponse es la respuesta exitosa del token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// refreshGrant es el registro opaco guardado bajo el hash del refresh.
type refreshGrant struct {
	Subject     string   `json:"subject"`
	ClientID    string   `json:"client_id"`
	Scopes      []string `json:"scopes"`
	Tier        int      `json:"tier,omitempty"`
	AMR         []string `json:"amr,omitempty"`
	RotatedFrom string   `json:"rotated_from,omitempty"`
	IssuedAt    int64    `json:"iat"`
}

func refreshKey(hash string) string     { return "oidc:refresh:" + hash }
func rotatedRefreshKey(h string) string { return "oidc:refresh:used:" + h }

// Exchange atiende el token endpoint: autentica al cliente y despacha el
// grant pedido.
func (p *Provider) Exchange(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	client, err := p.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	switch req.GrantType {
	case "authorization_code":
		return p.exchangeCode(ctx, client, req)
	case "refresh_token":
		return p.exchangeRefresh(ctx, client, req)
	default:
		return TokenResponse{}, ErrUnsupportedGrant.withDescription("grant no soportado: " + req.GrantType)
	}
}

// authenticateClient resuelve y verifica al cliente. Los públicos (sin
// secret registrado) autentican sólo por id; los confidenciales por
// argon2id en tiempo constante. Cliente inexistente quema la verificación
// igual para no filtrar existencia por timing.
func (p *Provider) authenticateClient(ctx context.Context, id, secret string) (core.Client, error) {
	if id == "" {
		return core.Client{}, ErrInvalidClient.withDescription("client_id requerido")
	}
	c, err := p.clients.Get(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			password.VerifyDummy(secret)
			return core.Client{}, ErrInvalidClient.withDescription("credenciales de cliente inválidas")
		}
		return core.Client{}, fmt.Errorf("oidc: client lookup: %w", err)
	}
	if !c.Active {
		return core.Client{}, ErrInvalidClient.withDescription("cliente inhabilitado")
	}
	if c.SecretHash == "" {
		if secret != "" {
			return core.Client{}, ErrInvalidClient.withDescription("cliente público no lleva secret")
		}
		return c, nil
	}
	if secret == "" || !password.Verify(secret, c.SecretHash) {
		return core.Client{}, ErrInvalidClient.withDescription("credenciales de cliente inválidas")
	}
	return c, nil
}

func (p *Provider) exchangeCode(ctx context.Context, client core.Client, req TokenRequest) (TokenResponse, error) {
	if req.Code == "" {
		return TokenResponse{}, ErrInvalidRequest.withDescription("falta code")
	}
	if l := len(req.CodeVerifier); l < 43 || l > 128 {
		return TokenResponse{}, ErrInvalidRequest.withDescription("code_verifier fuera de formato")
	}

	ac, err := p.consumeCode(ctx, req.Code)
	if err != nil {
		return TokenResponse{}, err
	}
	if ac.ClientID != client.ID {
		return TokenResponse{}, ErrInvalidGrant.withDescription("el code pertenece a otro cliente")
	}
	if ac.RedirectURI != "" && req.RedirectURI != ac.RedirectURI {
		return TokenResponse{}, ErrInvalidGrant.withDescription("redirect_uri no coincide con la autorización")
	}
	if !tokens.Equal(tokens.SHA256Base64URL(req.CodeVerifier), ac.CodeChallenge) {
		return TokenResponse{}, ErrInvalidGrant.withDescription("verificación PKCE falló")
	}

	subject, err := p.activeSubject(ctx, ac.Subject)
	if err != nil {
		return TokenResponse{}, err
	}

	access, jti, exp, err := p.issueAccess(client, subject, ac.Scopes, ac.Tier, ac.AMR)
	if err != nil {
		return TokenResponse{}, err
	}

	var idTok string
	if containsScope(ac.Scopes, "openid") {
		idTok, err = p.issueIDToken(client, ac, access)
		if err != nil {
			return TokenResponse{}, err
		}
	}

	refresh, refreshHash, err := p.issueRefresh(ctx, refreshGrant{
		Subject:  subject.Username,
		ClientID: client.ID,
		Scopes:   ac.Scopes,
		Tier:     ac.Tier,
		AMR:      ac.AMR,
		IssuedAt: p.now().Unix(),
	})
	if err != nil {
		return TokenResponse{}, err
	}

	// lápida del code: habilita detección de replay y revocación dirigida
	uc, _ := json.Marshal(usedCode{AccessJTI: jti, AccessExp: exp, RefreshHash: refreshHash})
	codeHash := tokens.SHA256Base64URL(req.Code)
	if err := p.cache.Set(ctx, usedCodeKey(codeHash), string(uc), p.refreshTTL); err != nil {
		p.log.Warn("no se pudo registrar la lápida del code", zap.Error(err))
	}

	p.log.Info("authorization code canjeado",
		zap.String("client_id", client.ID),
		zap.String("subject", subject.Username),
	)
	return TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(p.accessTTL.Seconds()),
		RefreshToken: refresh,
		IDToken:      idTok,
		Scope:        strings.Join(ac.Scopes, " "),
	}, nil
}

func (p *Provider) exchangeRefresh(ctx context.Context, client core.Client, req TokenRequest) (TokenResponse, error) {
	if req.RefreshToken == "" {
		return TokenResponse{}, ErrInvalidRequest.withDescription("falta refresh_token")
	}

	// el refresh se retira del cache con un Take atómico antes de cualquier
	// chequeo: dos rotaciones concurrentes del mismo token ven exactamente
	// un registro. Un rechazo posterior lo deja quemado a propósito; sólo
	// las fallas transitorias del store lo reponen.
	hash := tokens.SHA256Base64URL(req.RefreshToken)
	raw, err := p.cache.Take(ctx, refreshKey(hash))
	if err != nil {
		if cache.IsNotFound(err) {
			p.punishRefreshReplay(ctx, hash)
			return TokenResponse{}, ErrInvalidGrant.withDescription("refresh token inválido o rotado")
		}
		return TokenResponse{}, fmt.Errorf("oidc: leer refresh: %w", err)
	}
	var rg refreshGrant
	if err := json.Unmarshal([]byte(raw), &rg); err != nil {
		return TokenResponse{}, fmt.Errorf("oidc: unmarshal refresh: %w", err)
	}
	if rg.ClientID != client.ID {
		return TokenResponse{}, ErrInvalidGrant.withDescription("el refresh pertenece a otro cliente")
	}

	subject, err := p.activeSubject(ctx, rg.Subject)
	if err != nil {
		var oe *Error
		if !errors.As(err, &oe) {
			// falla transitoria del store: el refresh vuelve para el reintento
			if serr := p.cache.Set(ctx, refreshKey(hash), raw, p.refreshTTL); serr != nil {
				p.log.Error("no se pudo reponer el refresh tras falla del store", zap.Error(serr))
			}
		}
		return TokenResponse{}, err
	}

	// rotación: el viejo ya salió del cache, queda su lápida apuntando al sucesor
	newRefresh, newHash, err := p.issueRefresh(ctx, refreshGrant{
		Subject:     rg.Subject,
		ClientID:    rg.ClientID,
		Scopes:      rg.Scopes,
		Tier:        rg.Tier,
		AMR:         rg.AMR,
		RotatedFrom: hash,
		IssuedAt:    p.now().Unix(),
	})
	if err != nil {
		return TokenResponse{}, err
	}
	if err := p.cache.Set(ctx, rotatedRefreshKey(hash), newHash, p.refreshTTL); err != nil {
		p.log.Warn("no se pudo registrar la lápida del refresh", zap.Error(err))
	}

	access, _, _, err := p.issueAccess(client, subject, rg.Scopes, rg.Tier, rg.AMR)
	if err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(p.accessTTL.Seconds()),
		RefreshToken: newRefresh,
		Scope:        strings.Join(rg.Scopes, " "),
	}, nil
}

// punishRefreshReplay corta la cadena cuando reaparece un refresh ya
// rotado: el sucesor vigente se invalida.
func (p *Provider) punishRefreshReplay(ctx context.Context, hash string) {
	successor, err := p.cache.Get(ctx, rotatedRefreshKey(hash))
	if err != nil {
		return
	}
	p.log.Warn("reutilización de refresh token rotado, invalidando al sucesor")
	if err := p.cache.Delete(ctx, refreshKey(successor)); err != nil {
		p.log.Error("invalidación del sucesor falló", zap.Error(err))
	}
}

func (p *Provider) activeSubject(ctx context.Context, username string) (core.Subject, error) {
	s, err := p.subjects.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Subject{}, ErrInvalidGrant.withDescription("el sujeto ya no existe")
		}
		return core.Subject{}, fmt.Errorf("oidc: subject lookup: %w", err)
	}
	if !s.Active {
		return core.Subject{}, ErrInvalidGrant.withDescription("el sujeto está inhabilitado")
	}
	return s, nil
}

// issueAccess firma el access token del grant con jti visible para la
// lápida de replay.
func (p *Provider) issueAccess(client core.Client, s core.Subject, scopes []string, tier int, amr []string) (raw, jti string, exp int64, err error) {
	now := p.now().UTC()
	expAt := now.Add(p.accessTTL)
	jti = uuid.NewString()

	claims := map[string]any{
		"iss":            p.issuer,
		"sub":            s.Username,
		"aud":            p.audience,
		"iat":            now.Unix(),
		"nbf":            now.Unix(),
		"exp":            expAt.Unix(),
		"jti":            jti,
		"azp":            client.ID,
		"scope":          strings.Join(scopes, " "),
		token.ClaimNS:    s.Namespace,
		token.ClaimPerms: s.Permissions,
	}
	if tier > 0 {
		claims[token.ClaimTier] = tier
	}
	if len(amr) > 0 {
		claims[token.ClaimAMR] = amr
	}

	raw, err = p.codec.Issue(claims, "")
	if err != nil {
		return "", "", 0, fmt.Errorf("oidc: firmar access: %w", err)
	}
	return raw, jti, expAt.Unix(), nil
}

// issueIDToken arma el ID token del canje: audiencia = cliente, nonce del
// authorize y at_hash del access recién emitido.
func (p *Provider) issueIDToken(client core.Client, ac authCode, access string) (string, error) {
	now := p.now().UTC()
	claims := map[string]any{
		"iss":       p.issuer,
		"sub":       ac.Subject,
		"aud":       client.ID,
		"iat":       now.Unix(),
		"exp":       now.Add(p.idTokenTTL).Unix(),
		"azp":       client.ID,
		"auth_time": ac.IssuedAt,
		"at_hash":   atHash(access),
	}
	if ac.Nonce != "" {
		claims["nonce"] = ac.Nonce
	}
	if ac.Tier > 0 {
		claims[token.ClaimTier] = ac.Tier
	}
	if len(ac.AMR) > 0 {
		claims[token.ClaimAMR] = ac.AMR
	}

	idTok, err := p.codec.Issue(claims, "")
	if err != nil {
		return "", fmt.Errorf("oidc: firmar id token: %w", err)
	}
	return idTok, nil
}

func (p *Provider) issueRefresh(ctx context.Context, rg refreshGrant) (refresh, hash string, err error) {
	refresh, err = tokens.GenerateOpaqueToken(32)
	if err != nil {
		return "", "", fmt.Errorf("oidc: generar refresh: %w", err)
	}
	raw, err := json.Marshal(rg)
	if err != nil {
		return "", "", fmt.Errorf("oidc: marshal refresh: %w", err)
	}
	hash = tokens.SHA256Base64URL(refresh)
	if err := p.cache.Set(ctx, refreshKey(hash), string(raw), p.refreshTTL); err != nil {
		return "", "", fmt.Errorf("oidc: guardar refresh: %w", err)
	}
	return refresh, hash, nil
}

// atHash es el left-half del SHA-256 del access token en base64url, como
// manda OIDC Core para alg de 256 bits.
func atHash(access string) string {
	sum := sha256.Sum256([]byte(access))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
