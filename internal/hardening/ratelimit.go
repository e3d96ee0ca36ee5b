package hardening

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/rate"
)

// Nombres de las reglas por defecto.
const (
	RuleAuthentication = "authentication"
	RuleChallenge      = "challenge"
	RuleBiometric      = "biometric"
	RuleGlobal         = "global"
)

// Rule describe una regla de límite. Se define por configuración y no se
// muta durante el manejo de requests.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
	Burst  int
	Action Action // ActionThrottle o ActionBlock al superar Limit+Burst
}

// Decision es el veredicto del limiter para un request puntual.
type Decision struct {
	Action     Action
	Rule       string
	Hits       int
	RetryAfter time.Duration
	Reason     string
}

// RateLimiterConfig arma un RateLimiter suelto (el Manager lo hace solo).
type RateLimiterConfig struct {
	Counter              rate.Counter
	Rules                []Rule
	Whitelist            []string
	ProgressivePenalties bool
	BlockBase            time.Duration
	BlockMax             time.Duration
	Logger               *zap.Logger
}

// RateLimiter aplica reglas por (identificador, regla) sobre un Counter de
// ventana deslizante. Los bloqueos escalan geométricamente con la
// reincidencia cuando las penalidades progresivas están activas.
type RateLimiter struct {
	counter   rate.Counter
	rules     map[string]Rule
	whitelist map[string]struct{}

	progressive bool
	blockBase   time.Duration
	blockMax    time.Duration

	mu     sync.Mutex
	blocks map[string]blockState

	now func() time.Time
	log *zap.Logger
}

type blockState struct {
	until    time.Time
	offenses int
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Counter == nil {
		cfg.Counter = rate.NewMemoryCounter()
	}
	if cfg.BlockBase <= 0 {
		cfg.BlockBase = time.Minute
	}
	if cfg.BlockMax <= 0 {
		cfg.BlockMax = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	rl := &RateLimiter{
		counter:     cfg.Counter,
		rules:       make(map[string]Rule, len(cfg.Rules)),
		whitelist:   make(map[string]struct{}, len(cfg.Whitelist)),
		progressive: cfg.ProgressivePenalties,
		blockBase:   cfg.BlockBase,
		blockMax:    cfg.BlockMax,
		blocks:      make(map[string]blockState),
		now:         time.Now,
		log:         cfg.Logger,
	}
	for _, r := range cfg.Rules {
		rl.rules[r.Name] = r
	}
	for _, id := range cfg.Whitelist {
		rl.whitelist[id] = struct{}{}
	}
	return rl
}

// Check registra el request contra la regla y decide. Orden: whitelist,
// bloqueo vigente, conteo en ventana; dentro de Limit pasa, dentro de
// Limit+Burst se degrada a throttle, más allá aplica la acción de la regla.
func (rl *RateLimiter) Check(ctx context.Context, identifier, ruleName string) (Decision, error) {
	if _, ok := rl.whitelist[identifier]; ok {
		return Decision{Action: ActionAllow, Rule: ruleName}, nil
	}
	rule, ok := rl.rules[ruleName]
	if !ok {
		return Decision{}, fmt.Errorf("hardening: regla desconocida %q", ruleName)
	}
	key := ruleName + "|" + identifier

	rl.mu.Lock()
	if bs, blocked := rl.blocks[key]; blocked && rl.now().Before(bs.until) {
		retry := bs.until.Sub(rl.now())
		rl.mu.Unlock()
		return Decision{Action: ActionBlock, Rule: ruleName, RetryAfter: retry, Reason: "blocked"}, nil
	}
	rl.mu.Unlock()

	hits, err := rl.counter.Incr(ctx, key, rule.Window)
	if err != nil {
		return Decision{}, err
	}

	switch {
	case hits <= rule.Limit:
		return Decision{Action: ActionAllow, Rule: ruleName, Hits: hits}, nil
	case hits <= rule.Limit+rule.Burst:
		return Decision{Action: ActionThrottle, Rule: ruleName, Hits: hits, RetryAfter: rule.Window, Reason: "burst"}, nil
	}

	if rule.Action == ActionBlock {
		retry := rl.blockFor(key)
		rl.log.Warn("identificador bloqueado por tasa",
			zap.String("rule", ruleName),
			zap.String("identifier", identifier),
			zap.Duration("for", retry),
		)
		return Decision{Action: ActionBlock, Rule: ruleName, Hits: hits, RetryAfter: retry, Reason: "rate_exceeded"}, nil
	}
	return Decision{Action: ActionThrottle, Rule: ruleName, Hits: hits, RetryAfter: rule.Window, Reason: "rate_exceeded"}, nil
}

// Reset olvida contadores y bloqueos del identificador bajo esa regla.
func (rl *RateLimiter) Reset(ctx context.Context, identifier, ruleName string) error {
	key := ruleName + "|" + identifier
	rl.mu.Lock()
	delete(rl.blocks, key)
	rl.mu.Unlock()
	return rl.counter.Reset(ctx, key)
}

// Sweep olvida bloqueos cuya pena máxima ya quedó atrás; con ellos se va
// la memoria de reincidencia.
func (rl *RateLimiter) Sweep() int {
	cutoff := rl.now().Add(-rl.blockMax)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for k, bs := range rl.blocks {
		if bs.until.Before(cutoff) {
			delete(rl.blocks, k)
			n++
		}
	}
	return n
}

// blockFor registra la ofensa y calcula la pena: base * 2^(ofensas-1) con
// techo en blockMax; sin penalidades progresivas siempre la base.
func (rl *RateLimiter) blockFor(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bs := rl.blocks[key]
	bs.offenses++
	d := rl.blockBase
	if rl.progressive {
		for i := 1; i < bs.offenses; i++ {
			d *= 2
			if d >= rl.blockMax {
				d = rl.blockMax
				break
			}
		}
	}
	if d > rl.blockMax {
		d = rl.blockMax
	}
	bs.until = rl.now().Add(d)
	rl.blocks[key] = bs
	return d
}
