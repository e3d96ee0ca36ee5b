package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Parámetros bajos para que la suite no tarde; el formato es el mismo.
var fast = Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

func TestHashVerifyRoundTrip(t *testing.T) {
	phc, err := Hash(fast, "correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(phc, "$argon2id$v=19$"))
	require.True(t, Verify("correct horse battery staple", phc))
	require.False(t, Verify("correct horse battery stable", phc))
}

func TestHashRejectsEmpty(t *testing.T) {
	_, err := Hash(fast, "")
	require.Error(t, err)
}

func TestHashesAreSalted(t *testing.T) {
	a, err := Hash(fast, "misma clave")
	require.NoError(t, err)
	b, err := Hash(fast, "misma clave")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.True(t, Verify("misma clave", a))
	require.True(t, Verify("misma clave", b))
}

func TestVerifyMalformedPHC(t *testing.T) {
	for _, phc := range []string{
		"",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$ZGs",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$ZGs",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$ZGs",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA",
		"no es un phc",
	} {
		require.False(t, Verify("x", phc), "phc: %s", phc)
	}
}

func TestVerifyDummyAlwaysFalse(t *testing.T) {
	require.False(t, VerifyDummy("anything"))
	require.False(t, VerifyDummy(""))
}

func TestPolicy(t *testing.T) {
	p := Policy{MinLength: 10, RequireUpper: true, RequireDigit: true, ForbidCommon: true}

	ok, reasons := p.Validate("Str0ng-and-long")
	require.True(t, ok)
	require.Empty(t, reasons)

	ok, reasons = p.Validate("corta")
	require.False(t, ok)
	require.Contains(t, reasons, "too_short")
	require.Contains(t, reasons, "missing_digit")

	ok, reasons = p.Validate("Password1")
	require.False(t, ok)
	require.Contains(t, reasons, "too_common")
}
