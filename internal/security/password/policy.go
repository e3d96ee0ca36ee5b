package password

import (
	"strings"
	"unicode"
)

type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
	ForbidCommon  bool
}

// Lista corta de contraseñas quemadas. No sustituye a una denylist seria;
// corta lo indefendible en alta de sujetos por CLI.
var common = map[string]struct{}{
	"password": {}, "password1": {}, "123456": {}, "12345678": {},
	"qwerty": {}, "letmein": {}, "admin": {}, "welcome": {},
	"iloveyou": {}, "dragon": {}, "monkey": {}, "contraseña": {},
}

func (p Policy) Validate(s string) (ok bool, reasons []string) {
	if len([]rune(s)) < p.MinLength {
		reasons = append(reasons, "too_short")
	}
	var hasU, hasL, hasD, hasS bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasU = true
		case unicode.IsLower(r):
			hasL = true
		case unicode.IsDigit(r):
			hasD = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasS = true
		}
	}
	if p.RequireUpper && !hasU {
		reasons = append(reasons, "missing_upper")
	}
	if p.RequireLower && !hasL {
		reasons = append(reasons, "missing_lower")
	}
	if p.RequireDigit && !hasD {
		reasons = append(reasons, "missing_digit")
	}
	if p.RequireSymbol && !hasS {
		reasons = append(reasons, "missing_symbol")
	}
	if p.ForbidCommon {
		if _, bad := common[strings.ToLower(strings.TrimSpace(s))]; bad {
			reasons = append(reasons, "too_common")
		}
	}
	return len(reasons) == 0, reasons
}
