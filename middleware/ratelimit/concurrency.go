package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"asset-gateway/middleware/application"
	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/infra"
	"asset-gateway/middleware/respond"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	// Pool substitui o semáforo padrão (útil para expor InUse em métricas).
	Pool domain.SlotPool
}

// ConcurrencyMiddleware limita requisições simultâneas; sem vaga no prazo, 503.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Pool == nil {
		if opts.Max <= 0 {
			return func(next http.Handler) http.Handler { return next }
		}
		opts.Pool = infra.NewChanPool(opts.Max)
	}

	slots := application.DownloadSlots{
		Pool: opts.Pool,
		Wait: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := slots.Acquire(r.Context())
			if err != nil {
				if errors.Is(err, domain.ErrBusy) {
					w.Header().Set("Retry-After", "1")
				}
				respond.Err(w, domain.ErrBusy)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
