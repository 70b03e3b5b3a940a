// Package httpapi expõe os endpoints de links assinados e de saúde.
//
//	POST /assets/sign      emite link (sessão + origem + orçamento "sign")
//	GET  /assets/download  resolve link assinado (sem sessão; token bucket por IP)
//	GET  /assets/{id}      endereço estável (sessão; dono ou admin)
//	GET  /healthz          sondas do store e do ledger
//	GET  /metrics          Prometheus, quando configurado
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"asset-gateway/middleware/application"
	"asset-gateway/middleware/csrf"
	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/idempotency"
	"asset-gateway/middleware/principal"
	"asset-gateway/middleware/ratelimit"

	"github.com/go-chi/chi/v5"
)

type Config struct {
	Access  *application.AssetAccess
	Health  *application.HealthProbe
	Origin  *application.OriginGuard
	Limiter *application.WindowLimiter
	Budgets ratelimit.Budgets
	Ledger  *application.Ledger
	// PendingWait é repassado ao middleware de idempotência.
	PendingWait time.Duration

	// DownloadBucket protege o resolver, que não exige sessão.
	DownloadBucket domain.LimiterStore
	DownloadSlots  domain.SlotPool
	SlotWait       time.Duration
	// Redirect manda o cliente para a URL pré-assinada do storage em vez de transmitir.
	Redirect bool
	// MaxBufferBytes limita objetos lidos em memória para calcular o ETag.
	MaxBufferBytes int64

	Principal  principal.Extractor
	TrustProxy bool
	Stats      domain.StatsStore
	Metrics    http.Handler
	Logger     *slog.Logger
}

type Handler struct {
	cfg    Config
	logger *slog.Logger
	slots  application.DownloadSlots
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 32 << 20
	}
	return &Handler{
		cfg:    cfg,
		logger: cfg.Logger,
		slots:  application.DownloadSlots{Pool: cfg.DownloadSlots, Wait: cfg.SlotWait},
	}
}

// Routes monta as rotas em um router chi. Ela é usada tanto pelo servidor
// standalone quanto pelo gateway, que pendura o proxy no mesmo router.
func (h *Handler) Routes(r chi.Router) {
	keyFn := ratelimit.DefaultKeyFunc("", h.cfg.TrustProxy)

	r.Get("/healthz", h.healthz)
	if h.cfg.Metrics != nil {
		r.Handle("/metrics", h.cfg.Metrics)
	}

	r.Route("/assets", func(r chi.Router) {
		r.With(
			ratelimit.Middleware(ratelimit.Options{
				Store: h.cfg.DownloadBucket,
				Stats: h.cfg.Stats,
				KeyFn: keyFn,
			}),
		).Get("/download", h.download)

		r.Group(func(r chi.Router) {
			r.Use(principal.Require)
			r.Get("/{id}", h.stable)
			r.With(
				csrf.Middleware(csrf.Options{Guard: h.cfg.Origin, Stats: h.cfg.Stats, Logger: h.logger}),
				idempotency.Middleware(idempotency.Options{
					Ledger:      h.cfg.Ledger,
					PendingWait: h.cfg.PendingWait,
					AnonKeyFn:   keyFn,
					Stats:       h.cfg.Stats,
					Logger:      h.logger,
				}),
				ratelimit.WindowMiddleware(ratelimit.WindowOptions{
					Limiter:   h.cfg.Limiter,
					Budgets:   h.cfg.Budgets,
					Scope:     ratelimit.Scope("sign"),
					AnonKeyFn: keyFn,
					Stats:     h.cfg.Stats,
				}),
			).Post("/sign", h.sign)
		})
	})
}

// NewRouter devolve o router completo com request id, recover e log de acesso.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(h.logger))
	r.Use(LoggingMiddleware(h.logger))
	r.Use(principal.Middleware(h.cfg.Principal))
	h.Routes(r)
	return r
}
