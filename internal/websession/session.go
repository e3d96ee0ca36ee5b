package websession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/cache"
)

// Session es el registro persistido del ceremony. Viaja como JSON por el
// cache compartido; el índice local sólo guarda id y expiry.
type Session struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	Scopes      []string  `json:"scopes"`
	Subject     string    `json:"subject"`    // username
	SubjectID   string    `json:"subject_id"` // id interno del store
	Challenge   string    `json:"challenge"`
	Nonce       string    `json:"nonce,omitempty"`
	// challenge PKCE del cliente; se coteja en el canje final
	CodeChallenge string    `json:"code_challenge"`
	UserVerified  bool      `json:"user_verified"`
	RiskScore     float64   `json:"risk_score"`
	CodeHash      string    `json:"code_hash,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func sessionKey(id string) string { return "ws:sess:" + id }

func (s *Service) saveSession(ctx context.Context, sess *Session) error {
	blob, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("websession: serializando sesión: %w", err)
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.cache.Set(ctx, sessionKey(sess.ID), string(blob), ttl); err != nil {
		return fmt.Errorf("websession: guardando sesión: %w", err)
	}
	s.mu.Lock()
	s.index[sess.ID] = sess.ExpiresAt
	s.mu.Unlock()
	return nil
}

// loadSession trae la sesión y corta por expiración antes que por estado.
func (s *Service) loadSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	raw, err := s.cache.Get(ctx, sessionKey(id))
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("websession: leyendo sesión: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("websession: sesión corrupta: %w", err)
	}
	if s.now().After(sess.ExpiresAt) {
		sess.State = StateExpired
		_ = s.saveSession(ctx, &sess)
		return nil, ErrSessionExpired
	}
	return &sess, nil
}

// takeSession retira la sesión del cache en un solo paso atómico: de dos
// canjes concurrentes del mismo code exactamente uno ve la sesión. Quien
// la toma y no la consume debe reponerla con saveSession.
func (s *Service) takeSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	raw, err := s.cache.Take(ctx, sessionKey(id))
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("websession: leyendo sesión: %w", err)
	}
	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("websession: sesión corrupta: %w", err)
	}
	if s.now().After(sess.ExpiresAt) {
		sess.State = StateExpired
		_ = s.saveSession(ctx, &sess)
		return nil, ErrSessionExpired
	}
	return &sess, nil
}

// fail marca la sesión como fallida conservando el registro para auditoría.
func (s *Service) fail(ctx context.Context, sess *Session) {
	sess.State = StateFailed
	if err := s.saveSession(ctx, sess); err != nil {
		s.log.Warn("no se pudo marcar la sesión como fallida", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// Status devuelve el estado actual de una sesión si existe.
func (s *Service) Status(ctx context.Context, id string) (State, error) {
	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return "", err
	}
	return sess.State, nil
}
