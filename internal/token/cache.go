package token

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// resultCache recuerda validaciones exitosas: clave el token crudo, valor
// su Result. LRU acotado con TTL; los fallos nunca entran, así un token
// que empieza a fallar (revocado, vencido) no queda servido desde cache.
type resultCache struct {
	lru *expirable.LRU[string, Result]
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	return &resultCache{lru: expirable.NewLRU[string, Result](size, nil, ttl)}
}

func (rc *resultCache) get(raw string) (Result, bool) {
	res, ok := rc.lru.Get(raw)
	if !ok {
		return Result{}, false
	}
	// copia defensiva: el caller puede mutar Claims sin envenenar el cache
	res.Claims = cloneClaims(res.Claims)
	return res, true
}

func (rc *resultCache) put(raw string, res Result) {
	// clonar también al guardar: el Result devuelto al primer caller y el
	// cacheado no comparten mapa
	res.Claims = cloneClaims(res.Claims)
	rc.lru.Add(raw, res)
}

func (rc *resultCache) evict(raw string) {
	rc.lru.Remove(raw)
}

// evictJTI recorre el cache buscando resultados con ese jti. El cache está
// acotado (default 1000), el barrido es corto.
func (rc *resultCache) evictJTI(jti string) {
	for _, k := range rc.lru.Keys() {
		if res, ok := rc.lru.Peek(k); ok && res.JTI == jti {
			rc.lru.Remove(k)
		}
	}
}

func (rc *resultCache) len() int { return rc.lru.Len() }
