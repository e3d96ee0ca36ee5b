package hardening

import (
	"sync"
	"time"

	"go.uber.org/zap"

	tokens "github.com/dropDatabas3/cancerbero/internal/security/token"
)

// Razones de rechazo de ValidateNonce.
const (
	NonceUnknown  = "nonce_unknown"
	NonceExpired  = "nonce_expired"
	NonceMismatch = "nonce_context_mismatch"
)

const nonceBytes = 32

type nonceRecord struct {
	owner    string
	endpoint string
	expires  time.Time
}

// NonceStore emite nonces de un solo uso, opcionalmente atados a un owner
// y un endpoint. Validar es check-and-remove bajo el mismo lock: dos
// requests concurrentes nunca consumen el mismo nonce, y un nonce tocado
// jamás se readmite, ni siquiera cuando el rechazo fue por contexto.
type NonceStore struct {
	mu      sync.Mutex
	byValue map[string]nonceRecord
	byOwner map[string][]string // orden de emisión para expulsar el más viejo

	ttl      time.Duration
	maxOwner int
	now      func() time.Time
	log      *zap.Logger
}

func NewNonceStore(ttl time.Duration, maxPerOwner int, log *zap.Logger) *NonceStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if maxPerOwner <= 0 {
		maxPerOwner = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NonceStore{
		byValue:  make(map[string]nonceRecord),
		byOwner:  make(map[string][]string),
		ttl:      ttl,
		maxOwner: maxPerOwner,
		now:      time.Now,
		log:      log,
	}
}

// Generate emite un nonce aleatorio atado a owner/endpoint. Si el owner
// supera su cupo se expulsa su nonce más viejo.
func (s *NonceStore) Generate(owner, endpoint string) (string, error) {
	nonce, err := tokens.GenerateOpaqueToken(nonceBytes)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byValue[nonce] = nonceRecord{
		owner:    owner,
		endpoint: endpoint,
		expires:  s.now().Add(s.ttl),
	}
	if owner != "" {
		q := append(s.byOwner[owner], nonce)
		if len(q) > s.maxOwner {
			oldest := q[0]
			q = q[1:]
			delete(s.byValue, oldest)
			s.log.Debug("nonce expulsado por cupo", zap.String("owner", owner))
		}
		s.byOwner[owner] = q
	}
	return nonce, nil
}

// Validate consume el nonce y responde si era utilizable en este contexto.
// La razón viene vacía cuando ok es true.
func (s *NonceStore) Validate(nonce, owner, endpoint string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byValue[nonce]
	if !ok {
		return false, NonceUnknown
	}
	delete(s.byValue, nonce)
	s.removeFromOwnerLocked(rec.owner, nonce)

	if s.now().After(rec.expires) {
		return false, NonceExpired
	}
	if rec.owner != owner || rec.endpoint != endpoint {
		return false, NonceMismatch
	}
	return true, ""
}

// Sweep descarta los nonces vencidos y devuelve cuántos purgó.
func (s *NonceStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for v, rec := range s.byValue {
		if now.After(rec.expires) {
			delete(s.byValue, v)
			s.removeFromOwnerLocked(rec.owner, v)
			n++
		}
	}
	return n
}

// Len cuenta nonces vivos (métricas y tests).
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byValue)
}

func (s *NonceStore) removeFromOwnerLocked(owner, nonce string) {
	if owner == "" {
		return
	}
	q := s.byOwner[owner]
	for i, v := range q {
		if v == nonce {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(s.byOwner, owner)
	} else {
		s.byOwner[owner] = q
	}
}
