package token

import (
	"context"
	"encoding/json"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/guardian"
	tokens "github.com/dropDatabas3/cancerbero/internal/security/token"
)

// Context acompaña a Validate: metadata del request que se reenvía al
// colaborador de políticas. Audience permite exigir una audiencia distinta
// de la configurada.
type Context struct {
	Audience  string
	IP        string
	UserAgent string
	Endpoint  string
}

// Razones estables de rechazo. Son lo único que ve el caller; nunca llevan
// detalle interno.
const (
	ReasonMalformed             = "malformed_token"
	ReasonUnexpectedAlgorithm   = "unexpected_algorithm"
	ReasonMissingClaims         = "missing_required_claims"
	ReasonIssuerMismatch        = "issuer_mismatch"
	ReasonAudienceMismatch      = "audience_mismatch"
	ReasonInvalidSubject        = "invalid_subject_format"
	ReasonUnknownKID            = "unknown_key_id"
	ReasonInvalidSignature      = "invalid_signature"
	ReasonExpired               = "token_expired"
	ReasonNotYetValid           = "token_not_yet_valid"
	ReasonIssuedInFuture        = "issued_in_future"
	ReasonTooOld                = "token_too_old"
	ReasonRevoked               = "token_revoked"
	ReasonRevocationUnavailable = "revocation_unavailable"
	ReasonPolicyDenied          = "policy_denied"
	ReasonPolicyUnavailable     = "policy_unavailable"
)

// Result es el veredicto de Validate. Los rechazos traen Reason; los éxitos
// traen subject, jti, tier, las claims completas y el exp del token.
type Result struct {
	Valid     bool
	Reason    string
	Subject   string
	JTI       string
	Tier      int
	Claims    map[string]any
	ExpiresAt time.Time
	Cached    bool
}

// Validate corre el pipeline de siete pasos: estructura, claims requeridas,
// formato del subject, firma, tiempos, revocación y política externa. Cada
// paso corta en el primer fallo; sólo los éxitos entran al cache.
func (c *Codec) Validate(ctx context.Context, raw string, vc Context) Result {
	if res, ok := c.cache.get(raw); ok {
		// el TTL del LRU puede sobrevivir al exp del token: el hit no exime
		// del chequeo de expiración
		if c.now().After(res.ExpiresAt.Add(c.expiryGrace)) {
			c.cache.evict(raw)
			return c.reject(ReasonExpired, vc)
		}
		res.Cached = true
		return res
	}

	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithoutClaimsValidation(),
	)

	// 1) estructura: tres segmentos, header decodificable, alg y typ esperados
	unverified, parts, err := parser.ParseUnverified(raw, jwtv5.MapClaims{})
	if err != nil || len(parts) != 3 {
		return c.reject(ReasonMalformed, vc)
	}
	if typ, _ := unverified.Header["typ"].(string); typ != "JWT" {
		return c.reject(ReasonMalformed, vc)
	}
	if alg, _ := unverified.Header["alg"].(string); alg != jwtv5.SigningMethodHS256.Alg() {
		return c.reject(ReasonUnexpectedAlgorithm, vc)
	}
	mc, ok := unverified.Claims.(jwtv5.MapClaims)
	if !ok {
		return c.reject(ReasonMalformed, vc)
	}

	// 2) claims requeridas, presentes y con su tipo
	iss, okIss := mc["iss"].(string)
	sub, okSub := mc["sub"].(string)
	aud, okAud := mc["aud"].(string)
	jti, okJti := mc["jti"].(string)
	expN, okExp := claimNumber(mc, "exp")
	iatN, okIat := claimNumber(mc, "iat")
	if !okIss || !okSub || !okAud || !okJti || !okExp || !okIat || iss == "" || sub == "" || jti == "" {
		return c.reject(ReasonMissingClaims, vc)
	}
	if iss != c.iss {
		return c.reject(ReasonIssuerMismatch, vc)
	}
	wantAud := c.aud
	if vc.Audience != "" {
		wantAud = vc.Audience
	}
	if aud != wantAud {
		return c.reject(ReasonAudienceMismatch, vc)
	}

	// 3) formato del subject
	if !ValidSubject(sub) {
		return c.reject(ReasonInvalidSubject, vc)
	}

	// 4) firma: HMAC recalculado con la clave del kid del header. La
	// comparación es hmac.Equal dentro de jwt/v5, tiempo constante.
	kid, _ := unverified.Header["kid"].(string)
	secret, okKid := c.ring.Resolve(kid)
	if !okKid {
		return c.reject(ReasonUnknownKID, vc)
	}
	verified, err := parser.Parse(raw, func(*jwtv5.Token) (any, error) { return secret, nil })
	if err != nil || !verified.Valid {
		return c.reject(ReasonInvalidSignature, vc)
	}

	// 5) tiempos: exp con gracia, nbf y iat con tolerancia de reloj, edad tope
	now := c.now()
	if now.After(time.Unix(expN, 0).Add(c.expiryGrace)) {
		return c.reject(ReasonExpired, vc)
	}
	if nbfN, okNbf := claimNumber(mc, "nbf"); okNbf {
		if time.Unix(nbfN, 0).After(now.Add(c.clockSkew)) {
			return c.reject(ReasonNotYetValid, vc)
		}
	}
	iat := time.Unix(iatN, 0)
	if iat.After(now.Add(c.clockSkew)) {
		return c.reject(ReasonIssuedInFuture, vc)
	}
	if c.maxAge > 0 && now.Sub(iat) > c.maxAge {
		return c.reject(ReasonTooOld, vc)
	}

	// 6) revocación por jti y por hash del token completo
	hash := tokens.SHA256Base64URL(raw)
	revoked, err := c.rev.IsRevoked(ctx, jti, hash)
	if err != nil {
		c.log.Error("chequeo de revocación falló", zap.Error(err))
		return c.reject(ReasonRevocationUnavailable, vc)
	}
	if revoked {
		return c.reject(ReasonRevoked, vc)
	}

	// 7) colaborador de políticas, acotado en tiempo. Sin locks tomados acá.
	if c.policyEnabled {
		pctx, cancel := context.WithTimeout(ctx, c.policyTimeout)
		dec, perr := c.policy.ValidateAction(pctx, guardian.Action{
			Kind:      guardian.KindTokenUse,
			Subject:   sub,
			IP:        vc.IP,
			UserAgent: vc.UserAgent,
			Endpoint:  vc.Endpoint,
			Claims:    mc,
		})
		cancel()
		switch {
		case perr != nil && !c.policyFailOpen:
			return c.reject(ReasonPolicyUnavailable, vc)
		case perr != nil:
			c.log.Warn("guardian inalcanzable, validación sigue fail-open", zap.Error(perr))
		case !dec.Approved:
			return c.reject(ReasonPolicyDenied, vc)
		}
	}

	res := Result{
		Valid:     true,
		Subject:   sub,
		JTI:       jti,
		Tier:      tierClaim(mc),
		Claims:    cloneClaims(mc),
		ExpiresAt: time.Unix(expN, 0),
	}
	c.cache.put(raw, res)
	return res
}

// RevokeToken marca jti y hash del token como revocados hasta su expiración
// (más la gracia) y expulsa el éxito cacheado. Tokens ilegibles se revocan
// igual por hash: revocar nunca falla por formato.
func (c *Codec) RevokeToken(ctx context.Context, raw string) error {
	until := c.now().Add(c.maxAge)
	var jti string

	parser := jwtv5.NewParser(jwtv5.WithoutClaimsValidation())
	if unverified, _, err := parser.ParseUnverified(raw, jwtv5.MapClaims{}); err == nil {
		if mc, ok := unverified.Claims.(jwtv5.MapClaims); ok {
			jti, _ = mc["jti"].(string)
			if expN, okExp := claimNumber(mc, "exp"); okExp {
				until = time.Unix(expN, 0).Add(c.expiryGrace)
			}
		}
	}

	c.cache.evict(raw)
	if jti != "" {
		c.cache.evictJTI(jti)
	}
	return c.rev.Revoke(ctx, jti, tokens.SHA256Base64URL(raw), until)
}

// RevokeJTI revoca por id de token cuando no se tiene el token completo.
func (c *Codec) RevokeJTI(ctx context.Context, jti string, until time.Time) error {
	if until.IsZero() {
		until = c.now().Add(c.maxAge)
	}
	c.cache.evictJTI(jti)
	return c.rev.Revoke(ctx, jti, "", until)
}

// SweepRevocations purga marcas de revocación ya vencidas.
func (c *Codec) SweepRevocations(ctx context.Context) (int, error) {
	return c.rev.Sweep(ctx)
}

func (c *Codec) reject(reason string, vc Context) Result {
	c.log.Debug("token rechazado",
		zap.String("reason", reason),
		zap.String("endpoint", vc.Endpoint),
	)
	return Result{Reason: reason}
}

// ValidSubject acepta alias de identidad: 1..254 bytes del set
// [A-Za-z0-9@._:+-], sin espacios ni control.
func ValidSubject(s string) bool {
	if s == "" || len(s) > 254 {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '@' || ch == '.' || ch == '_' || ch == ':' || ch == '+' || ch == '-':
		default:
			return false
		}
	}
	return true
}

func claimNumber(mc jwtv5.MapClaims, key string) (int64, bool) {
	switch v := mc[key].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

func tierClaim(mc jwtv5.MapClaims) int {
	if n, ok := claimNumber(mc, ClaimTier); ok {
		return int(n)
	}
	return 0
}

func cloneClaims(mc map[string]any) map[string]any {
	out := make(map[string]any, len(mc))
	for k, v := range mc {
		out[k] = v
	}
	return out
}
