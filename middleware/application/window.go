package application

import (
	"context"
	"log/slog"
	"time"

	"asset-gateway/middleware/domain"
)

// WindowLimiter é o rate limiter de janela fixa por (escopo, principal).
//
// Incrementa primeiro e compara depois: em corrida, o contador pode passar de `max`
// pelo número de incrementos simultâneos, mas nenhum deles é aceito além de `max`.
// A janela não é deslizante; na virada, rajadas de até ~2x max são possíveis.
type WindowLimiter struct {
	Store  domain.CounterStore
	Prefix string
	Logger *slog.Logger
}

func NewWindowLimiter(store domain.CounterStore, logger *slog.Logger) *WindowLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowLimiter{Store: store, Prefix: "rl:", Logger: logger}
}

// Check aplica o orçamento `max` por `window` à chave.
//
// Se o store falhar (inclusive o fallback), a decisão é fail-open: disponibilidade
// vale mais que precisão aqui.
func (l *WindowLimiter) Check(ctx context.Context, key domain.Key, max int64, window time.Duration) domain.WindowDecision {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if l == nil || l.Store == nil {
		return domain.WindowDecision{Allowed: true, Limit: max, Remaining: max, Degraded: true}
	}

	count, ttl, err := l.Store.Incr(ctx, l.Prefix+string(key), window)
	if err != nil {
		l.logger().WarnContext(ctx, "rate limit store failed, allowing request",
			"key", string(key),
			"error", err,
		)
		return domain.WindowDecision{Allowed: true, Limit: max, Remaining: max, Degraded: true}
	}

	dec := domain.WindowDecision{
		Allowed:   count <= max,
		Count:     count,
		Limit:     max,
		Remaining: max - count,
	}
	if dec.Remaining < 0 {
		dec.Remaining = 0
	}
	if !dec.Allowed {
		dec.RetryAfter = retryAfter(ttl, window)
	}
	return dec
}

// retryAfter arredonda para cima em segundos inteiros, entre 1s e a janela.
func retryAfter(ttl, window time.Duration) time.Duration {
	if ttl <= 0 || ttl > window {
		ttl = window
	}
	secs := (ttl + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

func (l *WindowLimiter) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
