// Package memory implementa core.Store en memoria. Backend por defecto en
// dev y tests; un proceso, sin durabilidad.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/dropDatabas3/cancerbero/internal/store/core"
)

type Store struct {
	mu         sync.RWMutex
	clients    map[string]core.Client
	subjects   map[string]core.Subject
	byUsername map[string]string // username -> subject id
	totp       map[string]core.TOTPCredential
	hwKeys     map[string][]core.HardwareKey
	biometric  map[string][]core.BiometricDevice
	lockouts   map[string]core.Lockout
	grants     map[string]core.Grant // subject|client
}

func New() *Store {
	return &Store{
		clients:    make(map[string]core.Client),
		subjects:   make(map[string]core.Subject),
		byUsername: make(map[string]string),
		totp:       make(map[string]core.TOTPCredential),
		hwKeys:     make(map[string][]core.HardwareKey),
		biometric:  make(map[string][]core.BiometricDevice),
		lockouts:   make(map[string]core.Lockout),
		grants:     make(map[string]core.Grant),
	}
}

func (s *Store) Clients() core.ClientStore   { return (*clientRepo)(s) }
func (s *Store) Subjects() core.SubjectStore { return (*subjectRepo)(s) }
func (s *Store) Grants() core.GrantStore     { return (*grantRepo)(s) }

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

// ─── clients ───

type clientRepo Store

func (r *clientRepo) Create(ctx context.Context, c core.Client) error {
	if strings.TrimSpace(c.ID) == "" {
		return core.ErrInvalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c.ID]; exists {
		return core.ErrConflict
	}
	r.clients[c.ID] = cloneClient(c)
	return nil
}

func (r *clientRepo) Get(ctx context.Context, clientID string) (core.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return core.Client{}, core.ErrNotFound
	}
	return cloneClient(c), nil
}

func (r *clientRepo) List(ctx context.Context, activeOnly bool) ([]core.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Client, 0, len(r.clients))
	for _, c := range r.clients {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, cloneClient(c))
	}
	return out, nil
}

// ─── subjects ───

type subjectRepo Store

func (r *subjectRepo) Create(ctx context.Context, sub core.Subject) error {
	if strings.TrimSpace(sub.ID) == "" || strings.TrimSpace(sub.Username) == "" {
		return core.ErrInvalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subjects[sub.ID]; exists {
		return core.ErrConflict
	}
	if _, exists := r.byUsername[sub.Username]; exists {
		return core.ErrConflict
	}
	r.subjects[sub.ID] = cloneSubject(sub)
	r.byUsername[sub.Username] = sub.ID
	return nil
}

func (r *subjectRepo) Get(ctx context.Context, id string) (core.Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subjects[id]
	if !ok {
		return core.Subject{}, core.ErrNotFound
	}
	return cloneSubject(s), nil
}

func (r *subjectRepo) GetByUsername(ctx context.Context, username string) (core.Subject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return core.Subject{}, core.ErrNotFound
	}
	return cloneSubject(r.subjects[id]), nil
}

func (r *subjectRepo) GetTOTP(ctx context.Context, subjectID string) (core.TOTPCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.totp[subjectID]
	if !ok {
		return core.TOTPCredential{}, core.ErrNotFound
	}
	return c, nil
}

func (r *subjectRepo) UpsertTOTP(ctx context.Context, cred core.TOTPCredential) error {
	if strings.TrimSpace(cred.SubjectID) == "" {
		return core.ErrInvalid
	}
	r.mu.Lock()
	r.totp[cred.SubjectID] = cred
	r.mu.Unlock()
	return nil
}

func (r *subjectRepo) SetTOTPCounter(ctx context.Context, subjectID string, counter int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.totp[subjectID]
	if !ok {
		return core.ErrNotFound
	}
	if counter > c.LastCounter {
		c.LastCounter = counter
		r.totp[subjectID] = c
	}
	return nil
}

func (r *subjectRepo) ListHardwareKeys(ctx context.Context, subjectID string) ([]core.HardwareKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := r.hwKeys[subjectID]
	out := make([]core.HardwareKey, len(keys))
	for i, k := range keys {
		out[i] = cloneHardwareKey(k)
	}
	return out, nil
}

func (r *subjectRepo) AddHardwareKey(ctx context.Context, k core.HardwareKey) error {
	if strings.TrimSpace(k.SubjectID) == "" || len(k.CredentialID) == 0 {
		return core.ErrInvalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.hwKeys[k.SubjectID] {
		if string(existing.CredentialID) == string(k.CredentialID) {
			return core.ErrConflict
		}
	}
	r.hwKeys[k.SubjectID] = append(r.hwKeys[k.SubjectID], cloneHardwareKey(k))
	return nil
}

func (r *subjectRepo) SetHardwareKeySignCount(ctx context.Context, subjectID string, credentialID []byte, count uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.hwKeys[subjectID]
	for i := range keys {
		if string(keys[i].CredentialID) == string(credentialID) {
			keys[i].SignCount = count
			return nil
		}
	}
	return core.ErrNotFound
}

func (r *subjectRepo) ListBiometricDevices(ctx context.Context, subjectID string) ([]core.BiometricDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devs := r.biometric[subjectID]
	out := make([]core.BiometricDevice, len(devs))
	copy(out, devs)
	return out, nil
}

func (r *subjectRepo) AddBiometricDevice(ctx context.Context, d core.BiometricDevice) error {
	if strings.TrimSpace(d.SubjectID) == "" || strings.TrimSpace(d.DeviceID) == "" {
		return core.ErrInvalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.biometric[d.SubjectID] {
		if existing.DeviceID == d.DeviceID {
			return core.ErrConflict
		}
	}
	r.biometric[d.SubjectID] = append(r.biometric[d.SubjectID], d)
	return nil
}

func (r *subjectRepo) GetLockout(ctx context.Context, subjectID string) (core.Lockout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lockouts[subjectID], nil
}

func (r *subjectRepo) PutLockout(ctx context.Context, l core.Lockout) error {
	if strings.TrimSpace(l.SubjectID) == "" {
		return core.ErrInvalid
	}
	r.mu.Lock()
	r.lockouts[l.SubjectID] = l
	r.mu.Unlock()
	return nil
}

func (r *subjectRepo) ClearLockout(ctx context.Context, subjectID string) error {
	r.mu.Lock()
	delete(r.lockouts, subjectID)
	r.mu.Unlock()
	return nil
}

// ─── grants ───

type grantRepo Store

func grantKey(subjectID, clientID string) string { return subjectID + "|" + clientID }

func (r *grantRepo) Get(ctx context.Context, subjectID, clientID string) (core.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grants[grantKey(subjectID, clientID)]
	if !ok {
		return core.Grant{}, core.ErrNotFound
	}
	return cloneGrant(g), nil
}

func (r *grantRepo) Put(ctx context.Context, g core.Grant) error {
	if strings.TrimSpace(g.SubjectID) == "" || strings.TrimSpace(g.ClientID) == "" {
		return core.ErrInvalid
	}
	r.mu.Lock()
	r.grants[grantKey(g.SubjectID, g.ClientID)] = cloneGrant(g)
	r.mu.Unlock()
	return nil
}

// ─── clones: el estado interno nunca comparte slices con los callers ───

func cloneClient(c core.Client) core.Client {
	c.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	c.Scopes = append([]string(nil), c.Scopes...)
	return c
}

func cloneSubject(s core.Subject) core.Subject {
	s.Permissions = append([]string(nil), s.Permissions...)
	return s
}

func cloneHardwareKey(k core.HardwareKey) core.HardwareKey {
	k.CredentialID = append([]byte(nil), k.CredentialID...)
	return k
}

func cloneGrant(g core.Grant) core.Grant {
	g.Scopes = append([]string(nil), g.Scopes...)
	return g
}
