package infra

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"asset-gateway/middleware/domain"

	"golang.org/x/time/rate"
)

// FallbackCounterStore tenta o store primário (remoto) e, em qualquer erro,
// executa a mesma operação no secundário em memória.
//
// Degradação conhecida: enquanto o primário estiver fora, contadores e registros
// de idempotência valem só dentro deste processo.
type FallbackCounterStore struct {
	primary   domain.CounterStore
	secondary domain.CounterStore
	logger    *slog.Logger

	warn      rate.Sometimes
	fallbacks atomic.Uint64
}

func NewFallbackCounterStore(primary, secondary domain.CounterStore, logger *slog.Logger) *FallbackCounterStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackCounterStore{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
		warn:      rate.Sometimes{Interval: 30 * time.Second},
	}
}

func (s *FallbackCounterStore) Distributed() bool {
	d, ok := s.primary.(domain.DistributedStore)
	return ok && d.Distributed()
}

// Fallbacks retorna quantas operações caíram no secundário.
func (s *FallbackCounterStore) Fallbacks() uint64 { return s.fallbacks.Load() }

func (s *FallbackCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, ttl, err := s.primary.Incr(ctx, key, window)
	if err == nil {
		return count, ttl, nil
	}
	s.degraded(ctx, "incr", err)
	return s.secondary.Incr(ctx, key, window)
}

func (s *FallbackCounterStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := s.primary.Get(ctx, key)
	if err == nil {
		return v, ok, nil
	}
	s.degraded(ctx, "get", err)
	return s.secondary.Get(ctx, key)
}

func (s *FallbackCounterStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.primary.SetNX(ctx, key, value, ttl)
	if err == nil {
		return ok, nil
	}
	s.degraded(ctx, "setnx", err)
	return s.secondary.SetNX(ctx, key, value, ttl)
}

func (s *FallbackCounterStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.primary.Set(ctx, key, value, ttl)
	if err == nil {
		return nil
	}
	s.degraded(ctx, "set", err)
	return s.secondary.Set(ctx, key, value, ttl)
}

func (s *FallbackCounterStore) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	// o secundário pode ter uma cópia gravada durante uma queda anterior
	_ = s.secondary.Delete(ctx, key)
	if err != nil {
		s.degraded(ctx, "del", err)
	}
	return nil
}

func (s *FallbackCounterStore) degraded(ctx context.Context, op string, err error) {
	s.fallbacks.Add(1)
	s.warn.Do(func() {
		s.logger.WarnContext(ctx, "counter store unavailable, using in-process fallback",
			"op", op,
			"error", err,
			"fallbacks", s.fallbacks.Load(),
		)
	})
}
