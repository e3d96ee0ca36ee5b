package assertion

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testRPID   = "auth.example.com"
	testOrigin = "https://auth.example.com"
)

var testCredID = []byte("credencial-0001")

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// buildEnvelope fabrica el JSON que produce navigator.credentials.get().
func buildEnvelope(t *testing.T, challenge, origin, rpID string, flags byte, credID, sig []byte) []byte {
	t.Helper()

	clientData, err := json.Marshal(map[string]any{
		"type":      "webauthn.get",
		"challenge": challenge,
		"origin":    origin,
	})
	require.NoError(t, err)

	rpHash := sha256.Sum256([]byte(rpID))
	authData := make([]byte, 37)
	copy(authData[:32], rpHash[:])
	authData[32] = flags
	binary.BigEndian.PutUint32(authData[33:], 7)

	env, err := json.Marshal(map[string]any{
		"id":    b64(credID),
		"rawId": b64(credID),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(clientData),
			"authenticatorData": b64(authData),
			"signature":         b64(sig),
			"userHandle":        b64([]byte("subject-1")),
		},
	})
	require.NoError(t, err)
	return env
}

func validSig() []byte { return []byte{0x30, 0x44, 0x02, 0x20, 1, 2, 3, 4, 5, 6, 7, 8} }

const flagUP, flagUV = 0x01, 0x04

func TestVerifyHappyPath(t *testing.T) {
	ch, err := NewChallenge()
	require.NoError(t, err)

	env := buildEnvelope(t, ch, testOrigin, testRPID, flagUP|flagUV, testCredID, validSig())
	parsed, err := Parse(env)
	require.NoError(t, err)

	res, err := Verify(parsed, Expectations{
		Challenge:               ch,
		RPID:                    testRPID,
		Origins:                 []string{testOrigin},
		RequireUserVerification: true,
		CredentialIDs:           [][]byte{testCredID},
	})
	require.NoError(t, err)
	require.Equal(t, testCredID, res.CredentialID)
	require.True(t, res.UserPresent)
	require.True(t, res.UserVerified)
	require.Equal(t, uint32(7), res.SignCount)
}

func TestVerifyChallengeMismatch(t *testing.T) {
	ch, _ := NewChallenge()
	otro, _ := NewChallenge()

	env := buildEnvelope(t, otro, testOrigin, testRPID, flagUP, testCredID, validSig())
	parsed, err := Parse(env)
	require.NoError(t, err)

	_, err = Verify(parsed, Expectations{Challenge: ch, RPID: testRPID, Origins: []string{testOrigin}})
	require.ErrorIs(t, err, ErrChallengeMismatch)
}

func TestVerifyOriginNotAllowed(t *testing.T) {
	ch, _ := NewChallenge()
	env := buildEnvelope(t, ch, "https://evil.example.net", testRPID, flagUP, testCredID, validSig())
	parsed, err := Parse(env)
	require.NoError(t, err)

	_, err = Verify(parsed, Expectations{Challenge: ch, RPID: testRPID, Origins: []string{testOrigin}})
	require.ErrorIs(t, err, ErrOriginNotAllowed)
}

func TestVerifyRPIDMismatch(t *testing.T) {
	ch, _ := NewChallenge()
	env := buildEnvelope(t, ch, testOrigin, "otro.example.com", flagUP, testCredID, validSig())
	parsed, err := Parse(env)
	require.NoError(t, err)

	_, err = Verify(parsed, Expectations{Challenge: ch, RPID: testRPID, Origins: []string{testOrigin}})
	require.ErrorIs(t, err, ErrRPIDMismatch)
}

func TestVerifyUserPresenceRequired(t *testing.T) {
	ch, _ := NewChallenge()
	env := buildEnvelope(t, ch, testOrigin, testRPID, 0x00, testCredID, validSig())
	parsed, err := Parse(env)
	require.NoError(t, err)

	_, err = Verify(parsed, Expectations{Challenge: ch, RPID: testRPID, Origins: []string{testOrigin}})
	require.ErrorIs(t, err, ErrUserNotPresent)
}

func TestVerifyUserVerificationRequired(t *testing.T) {
	ch, _ := NewChallenge()
	env := buildEnvelope(t, ch, testOrigin, testRPID, flagUP, testCredID, validSig())
	parsed, err := Parse(env)
	require.NoError(t, err)

	// sin exigir UV pasa
	_, err = Verify(parsed, Expectations{Challenge: ch, RPID: testRPID, Origins: []string{testOrigin}})
	require.NoError(t, err)

	// exigiendo UV falla
	_, err = Verify(parsed, Expectations{
		Challenge: ch, RPID: testRPID, Origins: []string{testOrigin},
		RequireUserVerification: true,
	})
	require.ErrorIs(t, err, ErrUserNotVerified)
}

func TestVerifyUnknownCredential(t *testing.T) {
	ch, _ := NewChallenge()
	env := buildEnvelope(t, ch, testOrigin, testRPID, flagUP, testCredID, validSig())
	parsed, err := Parse(env)
	require.NoError(t, err)

	_, err = Verify(parsed, Expectations{
		Challenge: ch, RPID: testRPID, Origins: []string{testOrigin},
		CredentialIDs: [][]byte{[]byte("registrada-distinta")},
	})
	require.ErrorIs(t, err, ErrUnknownCredential)
}

func TestVerifyShortSignature(t *testing.T) {
	ch, _ := NewChallenge()
	env := buildEnvelope(t, ch, testOrigin, testRPID, flagUP, testCredID, []byte{0x30})
	parsed, err := Parse(env)
	require.NoError(t, err)

	_, err = Verify(parsed, Expectations{Challenge: ch, RPID: testRPID, Origins: []string{testOrigin}})
	require.ErrorIs(t, err, ErrNoSignature)
}

func TestParseGarbage(t *testing.T) {
	_, err := Parse([]byte("{no json valido"))
	require.Error(t, err)
	_, err = Parse([]byte(`{"id":"","type":"public-key"}`))
	require.Error(t, err)
}

func TestNewChallengeEntropy(t *testing.T) {
	a, err := NewChallenge()
	require.NoError(t, err)
	b, err := NewChallenge()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.GreaterOrEqual(t, len(a), 32) // 32 bytes -> 43 chars b64url
}
