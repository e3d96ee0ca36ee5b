package rate

import (
	"context"
	"sync"
	"time"
)

// Tope duro de eventos retenidos por clave; por encima, los más viejos se
// descartan aunque sigan dentro de la ventana (una clave así ya está bloqueada).
const maxEventsPerKey = 4096

// MemoryCounter: ventana deslizante con timestamps por clave. Apto para un
// solo proceso; en despliegues multi-instancia usar RedisCounter.
type MemoryCounter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (c *MemoryCounter) Incr(ctx context.Context, key string, window time.Duration) (int, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := prune(c.events[key], now.Add(-window))
	kept = append(kept, now)
	if len(kept) > maxEventsPerKey {
		kept = kept[len(kept)-maxEventsPerKey:]
	}
	c.events[key] = kept
	return len(kept), nil
}

func (c *MemoryCounter) Peek(ctx context.Context, key string, window time.Duration) (int, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := prune(c.events[key], now.Add(-window))
	if len(kept) == 0 {
		delete(c.events, key)
	} else {
		c.events[key] = kept
	}
	return len(kept), nil
}

func (c *MemoryCounter) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.events, key)
	c.mu.Unlock()
	return nil
}

// GC purga claves sin eventos vigentes. Lo dispara el scheduler; las rutas de
// request no lo necesitan porque Incr/Peek ya podan su propia clave.
func (c *MemoryCounter) GC(olderThan time.Duration) {
	cutoff := c.now().Add(-olderThan)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, evs := range c.events {
		kept := prune(evs, cutoff)
		if len(kept) == 0 {
			delete(c.events, k)
		} else {
			c.events[k] = kept
		}
	}
}

// prune descarta los timestamps anteriores al corte. Los slices llegan en
// orden cronológico, basta buscar el primer vigente.
func prune(evs []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(evs) && !evs[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return evs
	}
	return append([]time.Time(nil), evs[i:]...)
}
