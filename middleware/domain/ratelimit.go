package domain

// Camada de domínio do rate limit.
//
// Dois modelos convivem:
//   - Limiter/LimiterStore: token bucket por chave (proteção contra rajadas por IP)
//   - WindowDecision: janela fixa por (escopo, principal), apoiada no CounterStore

import "time"

type Key string

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// Observação: a implementação pode ser token-bucket, leaky-bucket, etc.
// A camada de infra usa golang.org/x/time/rate.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave (ex: IP, API key, usuário).
// A implementação pode manter cache, TTL, etc.
type LimiterStore interface {
	Get(Key) Limiter
}

type Decision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

// WindowDecision é o resultado de uma checagem de janela fixa.
//
// RetryAfter é aproximado: é o tempo restante da janela corrente segundo o store,
// não o instante exato em que uma nova requisição passaria.
type WindowDecision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	// Degraded indica que a decisão foi tomada sem consultar store nenhum (fail-open).
	Degraded bool
}

// ScopeKey monta a chave de bucket `escopo|principal`.
func ScopeKey(scope, principal string) Key {
	return Key(scope + "|" + principal)
}
