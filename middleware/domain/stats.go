package domain

import (
	"context"
	"time"
)

// Nomes de guardas usados em StatsEvent.Guard.
const (
	GuardTokenBucket = "token_bucket"
	GuardWindow      = "window"
	GuardOrigin      = "origin"
	GuardIdempotency = "idempotency"
	GuardToken       = "signed_url"
)

// StatsEvent representa um evento de decisão de uma guarda.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas
// e podem ser usadas para web, gRPC, etc.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Guard   string
	Key     Key
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas das guardas.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// O middleware deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
