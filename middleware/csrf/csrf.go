// Package csrf aplica a checagem de origem em escritas.
package csrf

import (
	"log/slog"
	"net/http"
	"time"

	"asset-gateway/middleware/application"
	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/respond"
)

type Options struct {
	Guard  *application.OriginGuard
	Stats  domain.StatsStore
	Logger *slog.Logger
}

// Middleware responde 403 genérico quando a origem não confere. O log registra
// Origin e Referer; a resposta não diz qual dos dois falhou.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if opts.Guard == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if application.SafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			referer := r.Header.Get("Referer")
			err := opts.Guard.Check(r.Method, origin, referer)
			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Guard:   domain.GuardOrigin,
					Allowed: err == nil,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				})
			}
			if err != nil {
				logger.WarnContext(r.Context(), "cross-origin write blocked",
					"method", r.Method,
					"path", r.URL.Path,
					"origin", origin,
					"referer", referer,
				)
				respond.Err(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
