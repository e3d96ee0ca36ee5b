package oidc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	tokens "github.com/dropDatabas3/cancerbero/internal/security/token"
)

// Document es el discovery document de /.well-known/openid-configuration.
type Document struct {
	Issuer                 string   `json:"issuer"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint"`
	TokenEndpoint          string   `json:"token_endpoint"`
	UserinfoEndpoint       string   `json:"userinfo_endpoint"`
	JWKSURI                string   `json:"jwks_uri"`
	RevocationEndpoint     string   `json:"revocation_endpoint"`
	IntrospectionEndpoint  string   `json:"introspection_endpoint"`
	ScopesSupported        []string `json:"scopes_supported"`
	ResponseTypesSupported []string `json:"response_types_supported"`
	GrantTypesSupported    []string `json:"grant_types_supported"`
	SubjectTypesSupported  []string `json:"subject_types_supported"`
	IDTokenSigningAlgs     []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuth      []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethods   []string `json:"code_challenge_methods_supported"`
	ClaimsSupported        []string `json:"claims_supported"`
}

// JWK publica la identidad de una clave del ring. Para claves simétricas
// sólo viaja kid/alg/use: el material `k` jamás se expone.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type discoveryState struct {
	doc     Document
	raw     []byte
	hash    string
	builtAt time.Time
}

// Discovery devuelve el documento vigente y su hash de contenido (ETag).
// Se reconstruye y revalida al vencer el TTL; un documento inválido es
// error duro, nunca se sirve.
func (p *Provider) Discovery() (Document, string, error) {
	p.mu.RLock()
	st := p.discovery
	p.mu.RUnlock()
	if st.raw != nil && p.now().Sub(st.builtAt) < p.discoveryTTL {
		return st.doc, st.hash, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discovery.raw != nil && p.now().Sub(p.discovery.builtAt) < p.discoveryTTL {
		return p.discovery.doc, p.discovery.hash, nil
	}

	doc := p.buildDocument()
	if err := ValidateDocument(doc); err != nil {
		return Document{}, "", fmt.Errorf("oidc: discovery inválido: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Document{}, "", fmt.Errorf("oidc: marshal discovery: %w", err)
	}
	p.discovery = discoveryState{
		doc:     doc,
		raw:     raw,
		hash:    tokens.SHA256Hex(string(raw)),
		builtAt: p.now(),
	}
	return doc, p.discovery.hash, nil
}

func (p *Provider) buildDocument() Document {
	base := strings.TrimRight(p.issuer, "/")
	return Document{
		Issuer:                 p.issuer,
		AuthorizationEndpoint:  base + "/oauth2/authorize",
		TokenEndpoint:          base + "/oauth2/token",
		UserinfoEndpoint:       base + "/oauth2/userinfo",
		JWKSURI:                base + "/.well-known/jwks.json",
		RevocationEndpoint:     base + "/oauth2/revoke",
		IntrospectionEndpoint:  base + "/oauth2/introspect",
		ScopesSupported:        append([]string{}, p.scopes...),
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:  []string{"public"},
		IDTokenSigningAlgs:     []string{"HS256"},
		TokenEndpointAuth:      []string{"client_secret_basic", "client_secret_post"},
		CodeChallengeMethods:   []string{"S256"},
		ClaimsSupported: []string{
			"iss", "sub", "aud", "exp", "iat", "nbf", "jti",
			"tier", "amr", "ns", "perms", "nonce", "at_hash", "auth_time",
		},
	}
}

// KeySet devuelve el JWKS publicable: identidad de las claves del ring sin
// material secreto.
func (p *Provider) KeySet() JWKS {
	kids := p.codec.KIDs()
	ks := JWKS{Keys: make([]JWK, 0, len(kids))}
	for _, kid := range kids {
		ks.Keys = append(ks.Keys, JWK{Kty: "oct", Kid: kid, Alg: "HS256", Use: "sig"})
	}
	return ks
}

// ValidateDocument aplica las reglas de seguridad del documento: endpoints
// https en el dominio del issuer, sin response types implícitos, sin alg
// none, PKCE sólo S256 y scope openid presente.
func ValidateDocument(d Document) error {
	iss, err := url.Parse(d.Issuer)
	if err != nil || !iss.IsAbs() || iss.Host == "" {
		return fmt.Errorf("issuer inválido: %q", d.Issuer)
	}
	if !secureScheme(iss) {
		return fmt.Errorf("issuer debe ser https: %q", d.Issuer)
	}

	endpoints := map[string]string{
		"authorization_endpoint": d.AuthorizationEndpoint,
		"token_endpoint":         d.TokenEndpoint,
		"userinfo_endpoint":      d.UserinfoEndpoint,
		"jwks_uri":               d.JWKSURI,
		"revocation_endpoint":    d.RevocationEndpoint,
		"introspection_endpoint": d.IntrospectionEndpoint,
	}
	for name, ep := range endpoints {
		u, err := url.Parse(ep)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("%s inválido: %q", name, ep)
		}
		if !secureScheme(u) {
			return fmt.Errorf("%s debe ser https: %q", name, ep)
		}
		if u.Host != iss.Host {
			return fmt.Errorf("%s fuera del dominio del issuer: %q", name, ep)
		}
	}

	for _, rt := range d.ResponseTypesSupported {
		if rt != "code" {
			return fmt.Errorf("response type no permitido: %q", rt)
		}
	}
	for _, alg := range d.IDTokenSigningAlgs {
		if strings.EqualFold(alg, "none") {
			return fmt.Errorf("alg none no permitido")
		}
	}

	s256 := false
	for _, m := range d.CodeChallengeMethods {
		if m == "S256" {
			s256 = true
			continue
		}
		return fmt.Errorf("método PKCE no permitido: %q", m)
	}
	if !s256 {
		return fmt.Errorf("falta el método PKCE S256")
	}

	for _, s := range d.ScopesSupported {
		if s == "openid" {
			return nil
		}
	}
	return fmt.Errorf("falta el scope openid")
}

// http queda permitido sólo en loopback (dev local).
func secureScheme(u *url.URL) bool {
	if u.Scheme == "https" {
		return true
	}
	if u.Scheme != "http" {
		return false
	}
	h := u.Hostname()
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}
