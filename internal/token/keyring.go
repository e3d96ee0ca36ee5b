// Package token firma y valida los tokens de acceso del sistema: HMAC-SHA256
// sobre header.payload canónico, tres segmentos base64url, kid en el header.
// La validación es un pipeline estricto de siete pasos que corta en el primer
// fallo y sólo cachea éxitos.
package token

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNoActiveKey = errors.New("token: kid activo sin secreto en el anillo")
	ErrUnknownKID  = errors.New("token: kid desconocido")
)

// Secretos HMAC menores a esto se rechazan al construir el anillo.
const minSecretLen = 32

// KeyRing resuelve secretos HMAC por kid. Se firma siempre con el kid activo
// y se valida contra cualquier kid conocido: rotar es agregar la clave nueva
// como activa y dejar la vieja en el anillo hasta que sus tokens mueran.
type KeyRing struct {
	active string
	keys   map[string][]byte
}

func NewKeyRing(active string, keys map[string][]byte) (*KeyRing, error) {
	if active == "" {
		return nil, ErrNoActiveKey
	}
	cp := make(map[string][]byte, len(keys))
	for kid, sec := range keys {
		if len(sec) < minSecretLen {
			return nil, fmt.Errorf("token: secreto de %q demasiado corto (%d bytes, mínimo %d)", kid, len(sec), minSecretLen)
		}
		dup := make([]byte, len(sec))
		copy(dup, sec)
		cp[kid] = dup
	}
	if _, ok := cp[active]; !ok {
		return nil, ErrNoActiveKey
	}
	return &KeyRing{active: active, keys: cp}, nil
}

// ActiveKID devuelve el kid con el que se firma.
func (r *KeyRing) ActiveKID() string { return r.active }

// Active devuelve kid y secreto de firma.
func (r *KeyRing) Active() (string, []byte) {
	return r.active, r.keys[r.active]
}

// Resolve devuelve el secreto para kid si el anillo lo conoce.
func (r *KeyRing) Resolve(kid string) ([]byte, bool) {
	sec, ok := r.keys[kid]
	return sec, ok
}

// KIDs lista los kid del anillo en orden estable. No expone secretos.
func (r *KeyRing) KIDs() []string {
	out := make([]string, 0, len(r.keys))
	for kid := range r.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}
