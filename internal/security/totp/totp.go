// Package totp valida códigos TOTP (RFC 6238) sobre github.com/pquerna/otp,
// con ventana de ±N pasos y anti-replay por contador consumido.
package totp

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/pquerna/otp"
	ptotp "github.com/pquerna/otp/totp"
)

type Options struct {
	Digits int // default 6
	Period int // segundos, default 30
	Skew   int // pasos de tolerancia (±), default 1
}

func (o Options) normalized() Options {
	if o.Digits == 0 {
		o.Digits = 6
	}
	if o.Period == 0 {
		o.Period = 30
	}
	if o.Skew == 0 {
		o.Skew = 1
	}
	return o
}

// GenerateSecret crea una semilla nueva (base32) y su URL otpauth:// para QR.
func GenerateSecret(issuer, account string, o Options) (secret, url string, err error) {
	o = o.normalized()
	key, err := ptotp.Generate(ptotp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      uint(o.Period),
		SecretSize:  20,
		Digits:      otp.Digits(o.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// Code calcula el código vigente para un instante dado. Sólo tests y
// provisioning; la validación de producción pasa por Verify.
func Code(secret string, at time.Time, o Options) (string, error) {
	o = o.normalized()
	return ptotp.GenerateCodeCustom(secret, at, validateOpts(o))
}

// Verify valida code dentro de ±Skew pasos alrededor de at. Contadores ya
// consumidos (<= lastCounter) no se consideran, de modo que un código
// interceptado no puede reutilizarse dentro de la ventana. Devuelve el
// contador que casó para persistirlo como nuevo lastCounter.
func Verify(secret, code string, at time.Time, o Options, lastCounter int64) (ok bool, counter int64) {
	o = o.normalized()
	code = strings.TrimSpace(code)
	if len(code) != o.Digits {
		return false, 0
	}
	step := at.Unix() / int64(o.Period)
	for c := step - int64(o.Skew); c <= step+int64(o.Skew); c++ {
		if c <= lastCounter {
			continue // anti-replay
		}
		expected, err := ptotp.GenerateCodeCustom(secret, time.Unix(c*int64(o.Period), 0), validateOpts(o))
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, c
		}
	}
	return false, 0
}

func validateOpts(o Options) ptotp.ValidateOpts {
	return ptotp.ValidateOpts{
		Period:    uint(o.Period),
		Skew:      0, // la ventana la recorre Verify contador a contador
		Digits:    otp.Digits(o.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}
