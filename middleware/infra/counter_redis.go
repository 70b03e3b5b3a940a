package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"asset-gateway/middleware/domain"

	"github.com/redis/go-redis/v9"
)

// incrScript implementa a janela fixa: a expiração é definida quando o contador
// nasce (ou quando a chave ficou sem TTL), nunca renovada a cada hit.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if current == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisCounterStore é o CounterStore compartilhado entre instâncias.
// Toda operação tem timeout curto para que um Redis degradado não trave o pipeline.
type RedisCounterStore struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
}

type RedisCounterOption func(*RedisCounterStore)

func WithCounterPrefix(prefix string) RedisCounterOption {
	return func(s *RedisCounterStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithCounterTimeout(d time.Duration) RedisCounterOption {
	return func(s *RedisCounterStore) { s.timeout = d }
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisCounterOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:     rdb,
		prefix:  "assetgw",
		timeout: 300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) Distributed() bool { return true }

func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	res, err := incrScript.Run(ctx, s.rdb, []string{s.key(key)}, ms).Result()
	if err != nil {
		return 0, 0, unavailable("incr", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return 0, 0, unavailable("incr", fmt.Errorf("unexpected script result %T", res))
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = ms
	}
	return count, time.Duration(ttlMs) * time.Millisecond, nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	return b, true, nil
}

func (s *RedisCounterStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.rdb.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}
	return ok, nil
}

func (s *RedisCounterStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *RedisCounterStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

func (s *RedisCounterStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisCounterStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// NewRedisClient cria o cliente a partir de uma URL redis:// ou rediss://.
// `token` sobrescreve a senha da URL quando informado.
//
// Falha de ping não é fatal: o chamador deve seguir com o fallback em memória.
func NewRedisClient(ctx context.Context, rawURL, token string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: REDIS_URL: %v", domain.ErrConfiguration, err)
	}
	if token != "" {
		opts.Password = token
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return rdb, unavailable("ping", err)
	}
	return rdb, nil
}
