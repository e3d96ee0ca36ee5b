// Package validation concentra las reglas de formato de los nombres que
// llegan del exterior (scopes OAuth, por ahora).
package validation

import "regexp"

// Reglas de nombre de scope:
//   - minúsculas solamente; empieza y termina con [a-z0-9]
//   - el medio admite [a-z0-9:_.-]
//   - largo 1..64; sin espacios ni punto y coma
//
// Válidos: profile, profile:read, a, a_b-c.d:scope2
// Inválidos: ;hack, BAD, "bad space", :leader, trailer:, "" y 65+ chars.
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidScopeName acepta un nombre de scope bien formado.
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}

// ValidScopeNames acepta la lista sólo si todos sus nombres pasan.
func ValidScopeNames(names []string) bool {
	for _, n := range names {
		if !ValidScopeName(n) {
			return false
		}
	}
	return true
}
