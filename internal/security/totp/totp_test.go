package totp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var opts = Options{Digits: 6, Period: 30, Skew: 1}

func TestGenerateSecret(t *testing.T) {
	secret, url, err := GenerateSecret("cancerbero", "ana@example.com", opts)
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.True(t, strings.HasPrefix(url, "otpauth://totp/"))
	require.Contains(t, url, "cancerbero")
}

func TestVerifyCurrentStep(t *testing.T) {
	secret, _, err := GenerateSecret("cancerbero", "a@b", opts)
	require.NoError(t, err)

	at := time.Unix(1_700_000_000, 0)
	code, err := Code(secret, at, opts)
	require.NoError(t, err)

	ok, counter := Verify(secret, code, at, opts, 0)
	require.True(t, ok)
	require.Equal(t, at.Unix()/30, counter)
}

func TestVerifySkewWindow(t *testing.T) {
	secret, _, err := GenerateSecret("cancerbero", "a@b", opts)
	require.NoError(t, err)

	at := time.Unix(1_700_000_000, 0)

	// código del paso anterior sigue valiendo (±1)
	prev, err := Code(secret, at.Add(-30*time.Second), opts)
	require.NoError(t, err)
	ok, _ := Verify(secret, prev, at, opts, 0)
	require.True(t, ok)

	// código del paso siguiente también (reloj adelantado)
	next, err := Code(secret, at.Add(30*time.Second), opts)
	require.NoError(t, err)
	ok, _ = Verify(secret, next, at, opts, 0)
	require.True(t, ok)

	// dos pasos de distancia ya no
	far, err := Code(secret, at.Add(2*30*time.Second), opts)
	require.NoError(t, err)
	ok, _ = Verify(secret, far, at, opts, 0)
	require.False(t, ok)
}

func TestVerifyAntiReplay(t *testing.T) {
	secret, _, err := GenerateSecret("cancerbero", "a@b", opts)
	require.NoError(t, err)

	at := time.Unix(1_700_000_000, 0)
	code, err := Code(secret, at, opts)
	require.NoError(t, err)

	ok, counter := Verify(secret, code, at, opts, 0)
	require.True(t, ok)

	// mismo código, contador ya consumido
	ok, _ = Verify(secret, code, at, opts, counter)
	require.False(t, ok, "un código consumido no puede validar dos veces")
}

func TestVerifyRejectsGarbage(t *testing.T) {
	secret, _, err := GenerateSecret("cancerbero", "a@b", opts)
	require.NoError(t, err)
	at := time.Now()

	ok, _ := Verify(secret, "12345", at, opts, 0) // longitud incorrecta
	require.False(t, ok)
	ok, _ = Verify(secret, "", at, opts, 0)
	require.False(t, ok)
	ok, _ = Verify(secret, "000000", at, opts, 0) // casi seguro inválido
	_ = ok                                        // no determinista; sólo no debe entrar en pánico
}
