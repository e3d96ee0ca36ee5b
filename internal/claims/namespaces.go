// Package claims fija las convenciones de namespace y permisos que viajan
// en los tokens emitidos.
package claims

import "strings"

const devSysNSFallback = "https://cancerbero.local/claims/sys"

// SystemNamespace construye el namespace de claims "de sistema" anclado al
// issuer. Ej: https://issuer.example/claims/sys
func SystemNamespace(issuer string) string {
	iss := strings.TrimSpace(issuer)
	if iss == "" {
		return devSysNSFallback // sólo dev
	}
	return strings.TrimRight(iss, "/") + "/claims/sys"
}

// DefaultPermissions son los permisos base que recibe un sujeto según el
// tier más alto que acreditó. Cada nivel suma sobre el anterior.
func DefaultPermissions(tier int) []string {
	perms := []string{"profile:read"}
	if tier >= 2 {
		perms = append(perms, "profile:write", "session:manage")
	}
	if tier >= 3 {
		perms = append(perms, "account:read")
	}
	if tier >= 4 {
		perms = append(perms, "account:write")
	}
	if tier >= 5 {
		perms = append(perms, "account:admin")
	}
	return perms
}
