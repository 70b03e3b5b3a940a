package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"asset-gateway/middleware/application"
	"asset-gateway/middleware/csrf"
	"asset-gateway/middleware/idempotency"
	"asset-gateway/middleware/infra"
	"asset-gateway/middleware/principal"
	"asset-gateway/middleware/ratelimit"
	"asset-gateway/middleware/respond"

	"github.com/go-chi/chi/v5"
)

// Exemplo: as guardas embutidas direto no seu webserver, sem proxy e sem Redis.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	port := "8081"
	if _, p, err := net.SplitHostPort(addr); err == nil && p != "" {
		port = p
	}
	h, err := newApp(ctx, "http://localhost:"+port, logger)
	if err != nil {
		logger.Error("setup", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

type chargeResponse struct {
	ChargeID int64 `json:"charge_id"`
	Amount   int64 `json:"amount"`
}

func newApp(ctx context.Context, baseURL string, logger *slog.Logger) (http.Handler, error) {
	store := infra.NewMemoryCounterStore()
	store.StartJanitor(ctx)
	bucket := infra.NewBucketStore(5, 10)
	bucket.StartJanitor(ctx)
	stats := infra.NewMemoryStatsStore()

	guard, err := application.NewOriginGuard(baseURL, false)
	if err != nil {
		return nil, err
	}
	limiter := application.NewWindowLimiter(store, logger)
	ledger := application.NewLedger(store, application.DefaultIdempotencyTTL, logger)
	budgets := ratelimit.Budgets{"charge": {Max: 5, Window: time.Minute}}

	var charges atomic.Int64
	charge := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
			respond.Error(w, http.StatusBadRequest, "invalid request")
			return
		}
		respond.JSON(w, http.StatusCreated, chargeResponse{ChargeID: charges.Add(1), Amount: req.Amount})
	})

	r := chi.NewRouter()
	r.Use(
		ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50}),
		ratelimit.Middleware(ratelimit.Options{
			Store:               bucket,
			Stats:               stats,
			KeyHeader:           "X-Api-Key", // ou vazio para usar IP
			AddRateLimitHeaders: true,
		}),
		principal.Middleware(principal.Extractor{}),
	)
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]any{
			"total":    stats.Total(),
			"by_guard": stats.ByGuard(),
			"by_route": stats.ByRoute(),
		})
	})
	r.With(
		principal.Require,
		csrf.Middleware(csrf.Options{Guard: guard, Stats: stats, Logger: logger}),
		idempotency.Middleware(idempotency.Options{Ledger: ledger, Stats: stats, Logger: logger}),
		ratelimit.WindowMiddleware(ratelimit.WindowOptions{
			Limiter: limiter,
			Budgets: budgets,
			Scope:   ratelimit.Scope("charge"),
			Stats:   stats,
		}),
	).Post("/charge", charge)
	return r, nil
}
