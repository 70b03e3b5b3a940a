package ratelimit

import (
	"net/http"

	"asset-gateway/middleware/application"
	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/principal"
	"asset-gateway/middleware/respond"
)

// ScopeFunc escolhe o escopo da requisição; "" deixa passar sem contar.
type ScopeFunc func(r *http.Request) string

// Scope fixa o escopo, para rotas que já sabem qual ação representam.
func Scope(name string) ScopeFunc {
	return func(*http.Request) string { return name }
}

type WindowOptions struct {
	Limiter *application.WindowLimiter
	Budgets Budgets
	Scope   ScopeFunc
	// AnonKeyFn identifica chamadores sem principal (padrão: IP).
	AnonKeyFn KeyFunc
	Stats     domain.StatsStore
}

// WindowMiddleware aplica o orçamento de janela fixa por (escopo, principal).
//
// Escopos sem orçamento configurado passam sem contar. Chamadores anônimos são
// contados pelo IP, com prefixo próprio para não colidir com IDs de principal.
func WindowMiddleware(opts WindowOptions) func(next http.Handler) http.Handler {
	if opts.AnonKeyFn == nil {
		opts.AnonKeyFn = DefaultKeyFunc("", false)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Limiter == nil || opts.Scope == nil {
				next.ServeHTTP(w, r)
				return
			}
			scope := opts.Scope(r)
			budget, ok := opts.Budgets[scope]
			if scope == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			subject := "ip:" + opts.AnonKeyFn(r)
			if p, ok := principal.FromContext(r.Context()); ok {
				subject = p.ID
			}
			key := domain.ScopeKey(scope, subject)

			dec := opts.Limiter.Check(r.Context(), key, budget.Max, budget.Window)
			record(r, opts.Stats, domain.GuardWindow, key, dec.Allowed)

			w.Header().Set("X-RateLimit-Limit", formatInt64(dec.Limit))
			w.Header().Set("X-RateLimit-Remaining", formatInt64(dec.Remaining))
			if !dec.Allowed {
				respond.TooManyRequests(w, dec.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
