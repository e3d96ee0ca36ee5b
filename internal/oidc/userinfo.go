package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// Userinfo resuelve las claims del portador del access token, filtradas
// por los scopes con los que el token fue emitido. Token inválido o sujeto
// desaparecido responden invalid_token, sin distinguir el porqué.
func (p *Provider) Userinfo(ctx context.Context, rawToken string) (map[string]any, error) {
	if rawToken == "" {
		return nil, ErrInvalidToken.withDescription("falta el bearer token")
	}
	vr := p.codec.Validate(ctx, rawToken, token.Context{})
	if !vr.Valid {
		return nil, ErrInvalidToken.withDescription(vr.Reason)
	}

	s, err := p.subjects.GetByUsername(ctx, vr.Subject)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("oidc: subject lookup: %w", err)
	}
	if !s.Active {
		return nil, ErrInvalidToken
	}

	scopes := map[string]struct{}{}
	if sc, ok := vr.Claims["scope"].(string); ok {
		for _, f := range strings.Fields(sc) {
			scopes[f] = struct{}{}
		}
	}

	out := map[string]any{"sub": vr.Subject}
	if _, ok := scopes["profile"]; ok {
		out["preferred_username"] = s.Username
		if s.Namespace != "" {
			out["ns"] = s.Namespace
		}
	}
	// el registro es administrado: los usernames con forma de email se
	// consideran verificados
	if _, ok := scopes["email"]; ok && strings.Contains(s.Username, "@") {
		out["email"] = s.Username
		out["email_verified"] = true
	}
	if vr.Tier > 0 {
		out[token.ClaimTier] = vr.Tier
	}
	if amr := claimStrings(vr.Claims, token.ClaimAMR); len(amr) > 0 {
		out[token.ClaimAMR] = amr
	}
	return out, nil
}
