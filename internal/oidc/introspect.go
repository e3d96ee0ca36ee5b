package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/cache"
	tokens "github.com/dropDatabas3/cancerbero/internal/security/token"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// Introspection es la respuesta RFC 7662. Con active=false no viaja nada
// más: a un cliente no se le cuenta por qué un token no sirve.
type Introspection struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Jti       string   `json:"jti,omitempty"`
	Iss       string   `json:"iss,omitempty"`
	Tier      int      `json:"tier,omitempty"`
	AMR       []string `json:"amr,omitempty"`
}

// Introspect responde por el estado de un token para clientes
// confidenciales autenticados. Acepta access tokens (JWT) y refresh
// tokens (opacos); cualquier otra cosa es active=false, nunca error.
func (p *Provider) Introspect(ctx context.Context, clientID, clientSecret, rawToken string) (Introspection, error) {
	client, err := p.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return Introspection{}, err
	}
	if client.SecretHash == "" {
		return Introspection{}, ErrInvalidClient.withDescription("introspección sólo para clientes confidenciales")
	}
	if rawToken == "" {
		return Introspection{}, ErrInvalidRequest.withDescription("falta token")
	}

	if vr := p.codec.Validate(ctx, rawToken, token.Context{}); vr.Valid {
		out := Introspection{
			Active:    true,
			Sub:       vr.Subject,
			Jti:       vr.JTI,
			Iss:       p.issuer,
			TokenType: "Bearer",
			Tier:      vr.Tier,
		}
		if s, ok := vr.Claims["scope"].(string); ok {
			out.Scope = s
		}
		if azp, ok := vr.Claims["azp"].(string); ok {
			out.ClientID = azp
		}
		out.Exp = claimInt64(vr.Claims, "exp")
		out.Iat = claimInt64(vr.Claims, "iat")
		out.AMR = claimStrings(vr.Claims, token.ClaimAMR)
		return out, nil
	}

	hash := tokens.SHA256Base64URL(rawToken)
	raw, err := p.cache.Get(ctx, refreshKey(hash))
	if err != nil {
		if cache.IsNotFound(err) {
			return Introspection{Active: false}, nil
		}
		return Introspection{}, fmt.Errorf("oidc: leer refresh: %w", err)
	}
	var rg refreshGrant
	if err := json.Unmarshal([]byte(raw), &rg); err != nil {
		return Introspection{Active: false}, nil
	}
	return Introspection{
		Active:    true,
		Sub:       rg.Subject,
		ClientID:  rg.ClientID,
		Scope:     strings.Join(rg.Scopes, " "),
		TokenType: "refresh_token",
		Iat:       rg.IssuedAt,
		Tier:      rg.Tier,
		AMR:       rg.AMR,
	}, nil
}

// Revoke implementa RFC 7009: el cliente autenticado revoca un token
// propio. Tokens desconocidos o basura devuelven éxito igual; el único
// error visible es la autenticación del cliente.
func (p *Provider) Revoke(ctx context.Context, clientID, clientSecret, rawToken, hint string) error {
	client, err := p.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}
	if rawToken == "" {
		return nil
	}

	hash := tokens.SHA256Base64URL(rawToken)
	if raw, err := p.cache.Get(ctx, refreshKey(hash)); err == nil {
		var rg refreshGrant
		if json.Unmarshal([]byte(raw), &rg) == nil && rg.ClientID != client.ID {
			// un cliente no revoca refresh tokens ajenos; éxito silencioso
			return nil
		}
		if err := p.cache.Delete(ctx, refreshKey(hash)); err != nil {
			p.log.Error("revocación de refresh falló", zap.Error(err))
		}
		p.log.Info("refresh token revocado", zap.String("client_id", client.ID))
		return nil
	}

	if err := p.codec.RevokeToken(ctx, rawToken); err != nil {
		p.log.Debug("revocación de access ignoró token inválido", zap.Error(err))
	}
	return nil
}

func claimInt64(claims map[string]any, key string) int64 {
	switch v := claims[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func claimStrings(claims map[string]any, key string) []string {
	switch v := claims[key].(type) {
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
