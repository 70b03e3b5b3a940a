package domain

import (
	"context"
	"time"
)

// CounterStore é o armazenamento chave/valor com expiração compartilhado pelo
// rate limiter e pelo ledger de idempotência.
//
// O backend remoto (Redis) garante correção entre instâncias. O fallback em
// memória é best-effort: não coordena processos diferentes.
type CounterStore interface {
	// Incr incrementa o contador e garante uma expiração de `window` quando a chave
	// é criada. Retorna o novo valor e o tempo restante até a expiração.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	// Get retorna (nil, false, nil) quando a chave não existe.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetNX grava apenas se a chave não existir; é a única âncora de atomicidade
	// do estado Pending da idempotência.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DistributedStore é implementado por stores que sabem dizer se estão
// operando com backend compartilhado entre instâncias.
type DistributedStore interface {
	Distributed() bool
}

// FallbackStore é implementado por stores que desviam para um secundário local
// quando o primário falha. Fallbacks só cresce.
type FallbackStore interface {
	Fallbacks() uint64
}
