package infra

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryCounterStore é o fallback em processo do CounterStore.
//
// Não oferece correção entre instâncias. Entradas expiradas são removidas no acesso
// e periodicamente pelo janitor (StartJanitor), já que não existe TTL nativo.
type MemoryCounterStore struct {
	mu           sync.Mutex
	entries      map[string]memEntry
	cleanupEvery time.Duration
	now          func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

type MemoryCounterOption func(*MemoryCounterStore)

func WithMemoryCleanupEvery(d time.Duration) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

// WithMemoryClock troca o relógio (testes).
func WithMemoryClock(now func() time.Time) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func NewMemoryCounterStore(opts ...MemoryCounterOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries:      make(map[string]memEntry),
		cleanupEvery: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryCounterStore) Distributed() bool { return false }

func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.live(key, now)
	var count int64
	if ok {
		count, _ = strconv.ParseInt(string(ent.value), 10, 64)
	}
	if !ok || ent.expiresAt.IsZero() {
		ent.expiresAt = expiry(now, window)
	}
	count++
	ent.value = []byte(strconv.FormatInt(count, 10))
	s.entries[key] = ent
	if ent.expiresAt.IsZero() {
		return count, 0, nil
	}
	return count, ent.expiresAt.Sub(now), nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.live(key, s.now())
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), ent.value...), true, nil
}

func (s *MemoryCounterStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key, now); ok {
		return false, nil
	}
	s.entries[key] = memEntry{value: append([]byte(nil), value...), expiresAt: expiry(now, ttl)}
	return true, nil
}

func (s *MemoryCounterStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memEntry{value: append([]byte(nil), value...), expiresAt: expiry(now, ttl)}
	return nil
}

func (s *MemoryCounterStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len retorna o número de entradas armazenadas, vivas ou não.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup remove entradas expiradas.
func (s *MemoryCounterStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if expired(ent, now) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa entradas expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}

// live deve ser chamado com s.mu travado.
func (s *MemoryCounterStore) live(key string, now time.Time) (memEntry, bool) {
	ent, ok := s.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if expired(ent, now) {
		delete(s.entries, key)
		return memEntry{}, false
	}
	return ent, true
}

func expired(ent memEntry, now time.Time) bool {
	return !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func startJanitor(ctx DoneContext, every time.Duration, cleanup func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
