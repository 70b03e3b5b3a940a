// Package idempotency colapsa retentativas de escritas com a mesma Idempotency-Key.
//
// A primeira requisição executa e tem a resposta gravada; as seguintes recebem a
// mesma resposta (status, headers e corpo) sem executar o handler de novo.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"asset-gateway/middleware/application"
	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/principal"
	"asset-gateway/middleware/ratelimit"
	"asset-gateway/middleware/respond"
)

const (
	DefaultHeader    = "Idempotency-Key"
	DefaultBodyField = "idempotency_key"
	ReplayedHeader   = "Idempotent-Replayed"
	maxClientKeyLen  = 255
	maxPeekBodyBytes = 64 << 10
)

type Options struct {
	Ledger *application.Ledger
	Header string
	// BodyField é o campo JSON lido quando o header está ausente (padrão: idempotency_key).
	BodyField string
	// Route identifica a operação (padrão: método + path).
	Route func(r *http.Request) string
	// PendingWait > 0 faz duplicatas concorrentes esperarem a primeira terminar
	// e receberem a mesma resposta; com 0, recebem 409 na hora.
	PendingWait time.Duration
	// MaxBodyBytes limita o corpo gravado; respostas maiores não são reproduzíveis.
	MaxBodyBytes int
	AnonKeyFn    ratelimit.KeyFunc
	Stats        domain.StatsStore
	Logger       *slog.Logger
}

// headers que não fazem sentido reproduzir
var skipHeaders = map[string]bool{
	"Set-Cookie":        true,
	"Date":              true,
	"Connection":        true,
	"Transfer-Encoding": true,
	ReplayedHeader:      true,
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = DefaultHeader
	}
	if opts.BodyField == "" {
		opts.BodyField = DefaultBodyField
	}
	if opts.Route == nil {
		opts.Route = func(r *http.Request) string { return r.Method + " " + r.URL.Path }
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.AnonKeyFn == nil {
		opts.AnonKeyFn = ratelimit.DefaultKeyFunc("", false)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if opts.Ledger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if application.SafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			clientKey := r.Header.Get(opts.Header)
			if clientKey == "" {
				clientKey = keyFromBody(r, opts.BodyField)
			}
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxClientKeyLen {
				respond.Error(w, http.StatusBadRequest, "invalid idempotency key")
				return
			}

			subject := "ip:" + opts.AnonKeyFn(r)
			if p, ok := principal.FromContext(r.Context()); ok {
				subject = p.ID
			}
			key := application.MakeKey(opts.Route(r), subject, clientKey)
			ctx := r.Context()

			res := opts.Ledger.Begin(ctx, key, 0)
			if !res.Acquired {
				rec := res.Record
				if rec.State == domain.StatePending && opts.PendingWait > 0 {
					rec = opts.Ledger.Await(ctx, key, opts.PendingWait, 0)
				}
				if rec.State == domain.StateSucceeded && rec.Response != nil {
					record(r, opts.Stats, key, true)
					replay(w, *rec.Response)
					return
				}
				record(r, opts.Stats, key, false)
				w.Header().Set("Retry-After", "1")
				respond.Error(w, http.StatusConflict, "request already in progress")
				return
			}
			record(r, opts.Stats, key, true)

			if res.Degraded {
				next.ServeHTTP(w, r)
				return
			}

			// o cliente pode desconectar; o registro ainda precisa ser resolvido
			bg := context.WithoutCancel(ctx)
			cw := &captureWriter{ResponseWriter: w, limit: opts.MaxBodyBytes}
			settled := false
			defer func() {
				// handler entrou em pânico: libera a chave para uma nova tentativa
				if !settled {
					_ = opts.Ledger.Clear(bg, key)
				}
			}()

			next.ServeHTTP(cw, r)

			status := cw.statusCode()
			switch {
			case status >= 500, status == http.StatusTooManyRequests:
				_ = opts.Ledger.Clear(bg, key)
			case cw.overflow:
				opts.Logger.WarnContext(ctx, "response too large to store for idempotent replay",
					"path", r.URL.Path,
					"limit", opts.MaxBodyBytes,
				)
				_ = opts.Ledger.Clear(bg, key)
			default:
				_ = opts.Ledger.Commit(bg, key, domain.StoredResponse{
					Status: status,
					Header: storedHeader(cw.Header()),
					Body:   cw.buf.Bytes(),
				}, 0)
			}
			settled = true
		})
	}
}

// keyFromBody lê o campo do corpo JSON e devolve o corpo intacto ao handler.
func keyFromBody(r *http.Request, field string) string {
	if r.Body == nil || r.ContentLength > maxPeekBodyBytes {
		return ""
	}
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt != "application/json" {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBodyBytes+1))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))
	if err != nil || len(raw) > maxPeekBodyBytes {
		return ""
	}
	var body map[string]json.RawMessage
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	var key string
	if json.Unmarshal(body[field], &key) != nil {
		return ""
	}
	return key
}

func replay(w http.ResponseWriter, resp domain.StoredResponse) {
	h := w.Header()
	for k, vs := range resp.Header {
		h[k] = append([]string(nil), vs...)
	}
	h.Set(ReplayedHeader, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func storedHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func record(r *http.Request, stats domain.StatsStore, key string, allowed bool) {
	if stats == nil {
		return
	}
	_ = stats.Record(r.Context(), domain.StatsEvent{
		Guard:   domain.GuardIdempotency,
		Key:     domain.Key(key),
		Allowed: allowed,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      time.Now(),
	})
}

// captureWriter repassa a resposta ao cliente e guarda uma cópia para replay.
type captureWriter struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	if !c.overflow {
		if c.buf.Len()+len(p) > c.limit {
			c.overflow = true
			c.buf.Reset()
		} else {
			c.buf.Write(p)
		}
	}
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }

func (c *captureWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
