package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"asset-gateway/middleware/domain"
)

const DefaultIdempotencyTTL = 10 * time.Minute

// Ledger guarda o estado de idempotência por chave composta.
//
// É best-effort: se o store falhar, as operações registram warning e o chamador
// segue como se não houvesse proteção, em vez de falhar a requisição.
type Ledger struct {
	Store  domain.CounterStore
	TTL    time.Duration
	Prefix string
	Logger *slog.Logger
}

func NewLedger(store domain.CounterStore, ttl time.Duration, logger *slog.Logger) *Ledger {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{Store: store, TTL: ttl, Prefix: "idem:", Logger: logger}
}

// MakeKey monta `route | principal | chave do cliente` com prefixo de tamanho em cada
// parte, então rotas ou principais diferentes nunca colidem.
func MakeKey(route, principal, clientKey string) string {
	var b strings.Builder
	for i, part := range []string{route, principal, clientKey} {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// BeginResult diz ao chamador como seguir.
//
// Acquired=true: este chamador deve executar o trabalho e depois Commit ou Clear.
// Acquired=false: Record traz o estado existente (pending ou succeeded).
type BeginResult struct {
	Acquired bool
	Record   domain.IdempotencyRecord
	// Degraded indica que o store falhou e a proteção não foi aplicada.
	Degraded bool
}

// Begin tenta criar o registro Pending atomicamente (SET NX).
func (l *Ledger) Begin(ctx context.Context, key string, ttl time.Duration) BeginResult {
	pending, _ := json.Marshal(domain.IdempotencyRecord{State: domain.StatePending})

	// uma segunda tentativa cobre o registro que expirou entre o SETNX e o GET
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := l.Store.SetNX(ctx, l.Prefix+key, pending, l.ttl(ttl))
		if err != nil {
			l.logger().WarnContext(ctx, "idempotency begin failed, proceeding unprotected", "error", err)
			return BeginResult{Acquired: true, Degraded: true}
		}
		if ok {
			return BeginResult{Acquired: true, Record: domain.IdempotencyRecord{State: domain.StatePending}}
		}

		rec, discarded, err := l.peek(ctx, key)
		if err != nil {
			l.logger().WarnContext(ctx, "idempotency peek failed, proceeding unprotected", "error", err)
			return BeginResult{Acquired: true, Degraded: true}
		}
		if discarded {
			// registro inválido ainda ocupa a chave; sem apagar, o SETNX nunca passa
			if err := l.Store.Delete(ctx, l.Prefix+key); err != nil {
				l.logger().WarnContext(ctx, "idempotency cleanup failed, proceeding unprotected", "error", err)
				return BeginResult{Acquired: true, Degraded: true}
			}
			continue
		}
		if rec.State != domain.StateAbsent {
			return BeginResult{Record: rec}
		}
	}
	// o registro some e reaparece: trata como em andamento
	return BeginResult{Record: domain.IdempotencyRecord{State: domain.StatePending}}
}

// Commit transita Pending -> Succeeded com a resposta a ser reproduzida.
func (l *Ledger) Commit(ctx context.Context, key string, resp domain.StoredResponse, ttl time.Duration) error {
	raw, err := json.Marshal(domain.IdempotencyRecord{State: domain.StateSucceeded, Response: &resp})
	if err != nil {
		return err
	}
	if err := l.Store.Set(ctx, l.Prefix+key, raw, l.ttl(ttl)); err != nil {
		l.logger().WarnContext(ctx, "idempotency commit failed", "error", err)
		return err
	}
	return nil
}

// Peek lê o estado sem alterar nada. Registro ilegível conta como ausente.
func (l *Ledger) Peek(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	rec, _, err := l.peek(ctx, key)
	return rec, err
}

// peek também informa se havia um registro descartado por estar inválido.
func (l *Ledger) peek(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	raw, ok, err := l.Store.Get(ctx, l.Prefix+key)
	if err != nil {
		return domain.IdempotencyRecord{}, false, err
	}
	if !ok {
		return domain.IdempotencyRecord{}, false, nil
	}
	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		l.logger().WarnContext(ctx, "discarding unreadable idempotency record", "error", err)
		return domain.IdempotencyRecord{}, true, nil
	}
	if rec.State == domain.StateSucceeded && rec.Response == nil {
		return domain.IdempotencyRecord{}, true, nil
	}
	return rec, false, nil
}

// Clear remove o registro: chaves de health check e falhas irrecuperáveis, para que
// uma nova tentativa legítima não fique presa em Pending até o TTL.
func (l *Ledger) Clear(ctx context.Context, key string) error {
	if err := l.Store.Delete(ctx, l.Prefix+key); err != nil {
		l.logger().WarnContext(ctx, "idempotency clear failed", "error", err)
		return err
	}
	return nil
}

// Await consulta o registro até ele sair de Pending ou até `wait` acabar.
func (l *Ledger) Await(ctx context.Context, key string, wait, poll time.Duration) domain.IdempotencyRecord {
	if poll <= 0 {
		poll = 25 * time.Millisecond
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(poll)
	defer tick.Stop()

	last := domain.IdempotencyRecord{State: domain.StatePending}
	for {
		select {
		case <-ctx.Done():
			return last
		case <-deadline.C:
			return last
		case <-tick.C:
			rec, err := l.Peek(ctx, key)
			if err != nil {
				continue
			}
			if rec.State != domain.StatePending {
				return rec
			}
		}
	}
}

func (l *Ledger) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l *Ledger) ttl(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if l.TTL > 0 {
		return l.TTL
	}
	return DefaultIdempotencyTTL
}
