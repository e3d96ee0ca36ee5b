package core

import "context"

// ClientStore persiste el registro de clientes OAuth.
type ClientStore interface {
	Create(ctx context.Context, c Client) error
	Get(ctx context.Context, clientID string) (Client, error)
	List(ctx context.Context, activeOnly bool) ([]Client, error)
}

// SubjectStore persiste identidades y su material de credenciales.
type SubjectStore interface {
	Create(ctx context.Context, s Subject) error
	Get(ctx context.Context, id string) (Subject, error)
	GetByUsername(ctx context.Context, username string) (Subject, error)

	GetTOTP(ctx context.Context, subjectID string) (TOTPCredential, error)
	UpsertTOTP(ctx context.Context, cred TOTPCredential) error
	// SetTOTPCounter persiste el contador consumido; sólo avanza, nunca
	// retrocede.
	SetTOTPCounter(ctx context.Context, subjectID string, counter int64) error

	ListHardwareKeys(ctx context.Context, subjectID string) ([]HardwareKey, error)
	AddHardwareKey(ctx context.Context, k HardwareKey) error
	SetHardwareKeySignCount(ctx context.Context, subjectID string, credentialID []byte, count uint32) error

	ListBiometricDevices(ctx context.Context, subjectID string) ([]BiometricDevice, error)
	AddBiometricDevice(ctx context.Context, d BiometricDevice) error

	// Lockout: Get devuelve zero value (sin error) cuando no hay registro.
	GetLockout(ctx context.Context, subjectID string) (Lockout, error)
	PutLockout(ctx context.Context, l Lockout) error
	ClearLockout(ctx context.Context, subjectID string) error
}

// GrantStore persiste consentimientos sujeto->cliente.
type GrantStore interface {
	Get(ctx context.Context, subjectID, clientID string) (Grant, error)
	Put(ctx context.Context, g Grant) error
}

// Store agrupa los repositorios de un mismo backend.
type Store interface {
	Clients() ClientStore
	Subjects() SubjectStore
	Grants() GrantStore
	Ping(ctx context.Context) error
	Close()
}
