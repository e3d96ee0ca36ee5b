package core

import "time"

// Client es un cliente OAuth registrado. SecretHash vacío marca un cliente
// público (PKCE obligatorio en cualquier caso).
type Client struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SecretHash     string    `json:"-"` // argon2id PHC
	RedirectURIs   []string  `json:"redirect_uris"`
	Scopes         []string  `json:"scopes"`
	RequireConsent bool      `json:"require_consent"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasRedirectURI exige match exacto; nada de prefijos ni wildcards.
func (c Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// HasScope acepta sólo scopes dados de alta para el cliente.
func (c Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Subject es la identidad autenticable.
type Subject struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	PasswordPHC string    `json:"-"`
	Namespace   string    `json:"namespace"`
	Permissions []string  `json:"permissions"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// TOTPCredential guarda la semilla cifrada y el último contador consumido
// (anti-replay de códigos dentro de la ventana).
type TOTPCredential struct {
	SubjectID       string
	SecretEncrypted string
	LastCounter     int64
	ConfirmedAt     *time.Time
	UpdatedAt       time.Time
}

// HardwareKey es una credencial WebAuthn registrada para el sujeto.
type HardwareKey struct {
	SubjectID    string
	CredentialID []byte
	Label        string
	SignCount    uint32
	CreatedAt    time.Time
}

// BiometricDevice es un dispositivo de attestation biométrica enrolado.
type BiometricDevice struct {
	SubjectID  string
	DeviceID   string
	Trusted    bool
	EnrolledAt time.Time
}

// Lockout acumula fallos de password por sujeto dentro de una ventana.
type Lockout struct {
	SubjectID   string
	Failures    int
	WindowStart time.Time
	LockedUntil time.Time
}

// Locked indica si el lockout sigue vigente en el instante dado.
func (l Lockout) Locked(now time.Time) bool {
	return !l.LockedUntil.IsZero() && now.Before(l.LockedUntil)
}

// Grant es el consentimiento previo de un sujeto hacia un cliente.
type Grant struct {
	SubjectID string
	ClientID  string
	Scopes    []string
	GrantedAt time.Time
}

// Covers responde si el grant ya incluye todos los scopes pedidos.
func (g Grant) Covers(scopes []string) bool {
	have := make(map[string]struct{}, len(g.Scopes))
	for _, s := range g.Scopes {
		have[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}
