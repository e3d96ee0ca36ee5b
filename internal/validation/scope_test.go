package validation

import (
	"strings"
	"testing"
)

func TestValidScopeName(t *testing.T) {
	valid := []string{
		"a",
		"ab",
		"openid",
		"profile",
		"profile:read",
		"email:read:e2e123",
		"a_b-c.d:scope2",
		"offline_access",
		strings.Repeat("a", 64), // largo máximo
	}
	for _, s := range valid {
		if !ValidScopeName(s) {
			t.Errorf("esperaba válido: %q", s)
		}
	}

	invalid := []string{
		"",
		":lead",
		"trail:",
		"-lead",
		"trail-",
		"bad space",
		"UPPER",
		"semicolon;hack",
		strings.Repeat("a", 65), // pasado del máximo
	}
	for _, s := range invalid {
		if ValidScopeName(s) {
			t.Errorf("esperaba inválido: %q", s)
		}
	}
}

func TestValidScopeNames(t *testing.T) {
	if !ValidScopeNames([]string{"openid", "profile:read"}) {
		t.Fatal("lista válida rechazada")
	}
	if ValidScopeNames([]string{"openid", "BAD"}) {
		t.Fatal("lista con scope inválido aceptada")
	}
	if !ValidScopeNames(nil) {
		t.Fatal("la lista vacía debe pasar")
	}
}
