// Package assertion verifica respuestas de hardware key (WebAuthn) a nivel
// de protocolo: binding del challenge, origen, hash del RP ID y flags de
// presencia/verificación de usuario. La verificación criptográfica de
// attestation queda fuera; aquí se valida que la aserción responde a
// NUESTRO challenge desde un origen permitido.
package assertion

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"

	tokens "github.com/dropDatabas3/cancerbero/internal/security/token"
)

var (
	ErrBadType           = errors.New("assertion: tipo de ceremonia inesperado")
	ErrChallengeMismatch = errors.New("assertion: el challenge no corresponde")
	ErrOriginNotAllowed  = errors.New("assertion: origen no permitido")
	ErrRPIDMismatch      = errors.New("assertion: hash de RP ID no coincide")
	ErrUserNotPresent    = errors.New("assertion: flag UP ausente")
	ErrUserNotVerified   = errors.New("assertion: flag UV ausente")
	ErrUnknownCredential = errors.New("assertion: credencial no registrada")
	ErrNoSignature       = errors.New("assertion: firma ausente o truncada")
)

// Expectations fija contra qué se valida una aserción concreta.
type Expectations struct {
	// Challenge emitido al iniciar el ceremony, base64url sin padding.
	Challenge string
	RPID      string
	Origins   []string
	// RequireUserVerification exige el flag UV además de UP.
	RequireUserVerification bool
	// CredentialIDs registrados para el sujeto; vacío => no se restringe.
	CredentialIDs [][]byte
}

// Result resume lo que la aserción demostró.
type Result struct {
	CredentialID []byte
	UserPresent  bool
	UserVerified bool
	SignCount    uint32
}

// Parse decodifica el sobre JSON de navigator.credentials.get().
func Parse(body []byte) (*protocol.ParsedCredentialAssertionData, error) {
	p, err := protocol.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("assertion: %w", err)
	}
	return p, nil
}

// Verify aplica los chequeos de protocolo en orden y corta en el primero que
// falla. No toca estado; el anti-replay del challenge lo garantiza el caller
// consumiendo el nonce/sesión antes de llamar.
func Verify(p *protocol.ParsedCredentialAssertionData, exp Expectations) (Result, error) {
	var res Result
	if p == nil {
		return res, ErrBadType
	}

	cd := p.Response.CollectedClientData
	if cd.Type != protocol.AssertCeremony {
		return res, fmt.Errorf("%w: %q", ErrBadType, cd.Type)
	}
	if !tokens.Equal(cd.Challenge, exp.Challenge) {
		return res, ErrChallengeMismatch
	}
	originOK := false
	for _, o := range exp.Origins {
		if o == cd.Origin {
			originOK = true
			break
		}
	}
	if !originOK {
		return res, fmt.Errorf("%w: %q", ErrOriginNotAllowed, cd.Origin)
	}

	rpHash := sha256.Sum256([]byte(exp.RPID))
	authData := p.Response.AuthenticatorData
	if !bytes.Equal(authData.RPIDHash, rpHash[:]) {
		return res, ErrRPIDMismatch
	}
	if !authData.Flags.UserPresent() {
		return res, ErrUserNotPresent
	}
	if exp.RequireUserVerification && !authData.Flags.UserVerified() {
		return res, ErrUserNotVerified
	}

	if len(exp.CredentialIDs) > 0 {
		known := false
		for _, id := range exp.CredentialIDs {
			if bytes.Equal(id, p.RawID) {
				known = true
				break
			}
		}
		if !known {
			return res, ErrUnknownCredential
		}
	}

	// Formato de firma: presencia y tamaño mínimo plausible (DER o raw).
	if len(p.Response.Signature) < 8 {
		return res, ErrNoSignature
	}

	res.CredentialID = p.RawID
	res.UserPresent = authData.Flags.UserPresent()
	res.UserVerified = authData.Flags.UserVerified()
	res.SignCount = authData.Counter
	return res, nil
}

// NewChallenge emite un challenge aleatorio en el formato que el navegador
// devolverá dentro de clientDataJSON.
func NewChallenge() (string, error) {
	ch, err := protocol.CreateChallenge()
	if err != nil {
		return "", err
	}
	return ch.String(), nil
}
