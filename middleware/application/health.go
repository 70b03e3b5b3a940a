package application

import (
	"context"
	"time"

	"asset-gateway/middleware/domain"

	"github.com/google/uuid"
)

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthReport é o resultado das sondas; cada uma é independente.
//
// Uma sonda atendida pelo fallback local conta como falha: o store compartilhado
// não respondeu.
type HealthReport struct {
	Status      string `json:"status"`
	RateLimit   bool   `json:"rate_limit_ok"`
	Idempotency bool   `json:"idempotency_ok"`
	// Distributed é falso quando os contadores vivem só neste processo,
	// inclusive durante uma queda do Redis.
	Distributed bool `json:"distributed"`
}

func (r HealthReport) OK() bool { return r.RateLimit && r.Idempotency }

// HealthProbe exercita o limiter e o ledger com chaves descartáveis.
type HealthProbe struct {
	Limiter *WindowLimiter
	Ledger  *Ledger
	NewKey  func() string
}

func NewHealthProbe(limiter *WindowLimiter, ledger *Ledger) *HealthProbe {
	return &HealthProbe{Limiter: limiter, Ledger: ledger, NewKey: uuid.NewString}
}

func (h *HealthProbe) Run(ctx context.Context) HealthReport {
	var rep HealthReport
	rlFallback := watchFallbacks(h.Limiter.Store)
	rep.RateLimit = h.probeRateLimit(ctx) && !rlFallback()
	idemFallback := watchFallbacks(h.Ledger.Store)
	rep.Idempotency = h.probeIdempotency(ctx) && !idemFallback()

	if d, ok := h.Limiter.Store.(domain.DistributedStore); ok {
		rep.Distributed = d.Distributed() && rep.RateLimit && rep.Idempotency
	}
	rep.Status = HealthOK
	if !rep.OK() {
		rep.Status = HealthDegraded
	}
	return rep
}

// watchFallbacks devolve uma função que diz se o store desviou para o
// secundário desde a chamada.
func watchFallbacks(store domain.CounterStore) func() bool {
	f, ok := store.(domain.FallbackStore)
	if !ok {
		return func() bool { return false }
	}
	before := f.Fallbacks()
	return func() bool { return f.Fallbacks() != before }
}

func (h *HealthProbe) probeRateLimit(ctx context.Context) bool {
	key := domain.Key("health:rl:" + h.NewKey())
	dec := h.Limiter.Check(ctx, key, 1000, 5*time.Second)
	// a chave nunca fica para trás, nem quando a sonda falha
	_ = h.Limiter.Store.Delete(ctx, h.Limiter.Prefix+string(key))
	return dec.Allowed && !dec.Degraded
}

func (h *HealthProbe) probeIdempotency(ctx context.Context) bool {
	key := "health:idem:" + h.NewKey()
	defer func() { _ = h.Ledger.Clear(ctx, key) }()

	res := h.Ledger.Begin(ctx, key, 5*time.Second)
	if !res.Acquired || res.Degraded {
		return false
	}
	rec, err := h.Ledger.Peek(ctx, key)
	return err == nil && rec.State == domain.StatePending
}
