package token

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/cancerbero/internal/cache"
)

// Revoker es el set de revocación: marca por jti y por hash del token
// completo. La implementación de memoria alcanza para un nodo; la interfaz
// deja enchufar un backend compartido.
type Revoker interface {
	Revoke(ctx context.Context, jti, hash string, until time.Time) error
	IsRevoked(ctx context.Context, jti, hash string) (bool, error)
	Sweep(ctx context.Context) (int, error)
}

// MemoryRevocations guarda las marcas en dos mapas bajo RWMutex. Retener
// más allá de until no aporta: el paso de tiempos ya rechaza esos tokens,
// así que Sweep las descarta.
type MemoryRevocations struct {
	mu     sync.RWMutex
	byJTI  map[string]time.Time
	byHash map[string]time.Time
	now    func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{
		byJTI:  make(map[string]time.Time),
		byHash: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryRevocations) Revoke(_ context.Context, jti, hash string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if jti != "" {
		m.byJTI[jti] = until
	}
	if hash != "" {
		m.byHash[hash] = until
	}
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, jti, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if jti != "" {
		if _, ok := m.byJTI[jti]; ok {
			return true, nil
		}
	}
	if hash != "" {
		if _, ok := m.byHash[hash]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRevocations) Sweep(_ context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, until := range m.byJTI {
		if now.After(until) {
			delete(m.byJTI, k)
			n++
		}
	}
	for k, until := range m.byHash {
		if now.After(until) {
			delete(m.byHash, k)
			n++
		}
	}
	return n, nil
}

// Len cuenta marcas vivas (métricas y tests).
func (m *MemoryRevocations) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byJTI) + len(m.byHash)
}

// CacheRevocations apoya el set en un cache.Client; con redis detrás la
// revocación se comparte entre instancias. El TTL del backend hace el
// trabajo de Sweep.
type CacheRevocations struct {
	c      cache.Client
	prefix string
}

func NewCacheRevocations(c cache.Client, prefix string) *CacheRevocations {
	if prefix == "" {
		prefix = "revoked:"
	}
	return &CacheRevocations{c: c, prefix: prefix}
}

func (r *CacheRevocations) Revoke(ctx context.Context, jti, hash string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if jti != "" {
		if err := r.c.Set(ctx, r.prefix+"jti:"+jti, "1", ttl); err != nil {
			return err
		}
	}
	if hash != "" {
		if err := r.c.Set(ctx, r.prefix+"hash:"+hash, "1", ttl); err != nil {
			return err
		}
	}
	return nil
}

func (r *CacheRevocations) IsRevoked(ctx context.Context, jti, hash string) (bool, error) {
	if jti != "" {
		ok, err := r.c.Exists(ctx, r.prefix+"jti:"+jti)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	if hash != "" {
		ok, err := r.c.Exists(ctx, r.prefix+"hash:"+hash)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *CacheRevocations) Sweep(context.Context) (int, error) { return 0, nil }
