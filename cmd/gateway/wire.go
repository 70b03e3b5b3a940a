package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"asset-gateway/middleware/application"
	"asset-gateway/middleware/csrf"
	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/httpapi"
	"asset-gateway/middleware/idempotency"
	"asset-gateway/middleware/infra"
	"asset-gateway/middleware/principal"
	"asset-gateway/middleware/ratelimit"
	"asset-gateway/middleware/respond"
	"asset-gateway/middleware/signing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// gateway junta tudo que o processo mantém vivo; closers rodam em ordem reversa.
type gateway struct {
	handler http.Handler
	closers []func()
}

func (g *gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		g.closers[i]()
	}
}

// loadSigner é compartilhado pelo serve e pelo sign.
func loadSigner(cfg config, logger *slog.Logger) (*application.URLAuthority, error) {
	key, err := signing.LoadKey(cfg.signingSecret, cfg.production, logger)
	if err != nil {
		return nil, err
	}
	urls := application.NewURLAuthority(signing.New(key), cfg.baseURL)
	urls.DefaultTTL = cfg.signedURLTTL
	urls.MaxTTL = cfg.signedURLMaxTTL
	return urls, nil
}

func buildGateway(ctx context.Context, cfg config, logger *slog.Logger) (*gateway, error) {
	g := &gateway{}
	fail := func(err error) (*gateway, error) {
		g.Close()
		return nil, err
	}

	urls, err := loadSigner(cfg, logger)
	if err != nil {
		return fail(err)
	}
	guard, err := application.NewOriginGuard(cfg.baseURL, cfg.csrfRequireOrigin)
	if err != nil {
		return fail(err)
	}

	// contadores: Redis quando configurado, sempre com o fallback local por trás
	memory := infra.NewMemoryCounterStore()
	memory.StartJanitor(ctx)
	var store domain.CounterStore = memory
	var rdb *redis.Client
	var fallback *infra.FallbackCounterStore
	if cfg.redisURL != "" {
		rdb, err = infra.NewRedisClient(ctx, cfg.redisURL, cfg.redisToken)
		if rdb == nil {
			return fail(err)
		}
		g.closers = append(g.closers, func() { _ = rdb.Close() })
		if err != nil {
			logger.Warn("redis not reachable at startup, using in-process fallback until it is", "error", err)
		}
		fallback = infra.NewFallbackCounterStore(
			infra.NewRedisCounterStore(rdb, infra.WithCounterTimeout(cfg.storeTimeout)),
			memory,
			logger,
		)
		store = fallback
	} else {
		logger.Warn("REDIS_URL not set; rate limits and idempotency are per-process")
	}

	// estatísticas das guardas
	var stats infra.MultiStatsStore
	var metrics http.Handler
	var reg *prometheus.Registry
	if cfg.metricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prom, err := infra.NewPrometheusStatsStore(reg)
		if err != nil {
			return fail(err)
		}
		stats = append(stats, prom)
		if fallback != nil {
			reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "assetgw",
				Name:      "counter_store_fallbacks_total",
				Help:      "Operações do counter store atendidas pelo fallback local.",
			}, func() float64 { return float64(fallback.Fallbacks()) }))
		}
		metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.statsEnabled && rdb != nil {
		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		))
	}
	var statsStore domain.StatsStore
	if len(stats) > 0 {
		statsStore = stats
	}

	// assets e bytes
	var assets domain.AssetRepository
	if cfg.databaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.databaseURL)
		if err != nil {
			return fail(err)
		}
		g.closers = append(g.closers, pool.Close)
		assets = infra.NewPostgresAssets(pool)
	} else {
		logger.Warn("DATABASE_URL not set; using empty in-memory asset table")
		assets = infra.NewMemoryAssets()
	}
	var objects domain.ObjectStore
	if cfg.storage.Bucket != "" {
		objects, err = infra.NewMinioObjects(cfg.storage)
		if err != nil {
			return fail(err)
		}
	} else {
		logger.Warn("STORAGE_BUCKET not set; using empty in-memory object store")
		objects = infra.NewMemoryObjects()
	}

	limiter := application.NewWindowLimiter(store, logger)
	ledger := application.NewLedger(store, cfg.idempotencyTTL, logger)

	bucket := infra.NewBucketStore(cfg.downloadRPS, cfg.downloadBurst)
	bucket.StartJanitor(ctx)
	var slots domain.SlotPool
	if cfg.downloadConcurrency > 0 {
		pool := infra.NewChanPool(cfg.downloadConcurrency)
		slots = pool
		if reg != nil {
			reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "assetgw",
				Name:      "download_slots_in_use",
				Help:      "Downloads transmitindo bytes agora.",
			}, func() float64 { return float64(pool.InUse()) }))
		}
	}

	extractor := principal.Extractor{
		IDHeader:     cfg.principalHeader,
		RoleHeader:   cfg.principalRoleHeader,
		TrustedPeers: cfg.trustedPeers,
	}
	if len(cfg.trustedPeers) == 0 {
		logger.Warn("PRINCIPAL_TRUSTED_PEERS not set; principal headers are trusted from any peer, keep the gateway behind the auth proxy")
	}
	h := httpapi.NewHandler(httpapi.Config{
		Access:         &application.AssetAccess{Assets: assets, Objects: objects, URLs: urls, Logger: logger},
		Health:         application.NewHealthProbe(limiter, ledger),
		Origin:         guard,
		Limiter:        limiter,
		Budgets:        cfg.budgets,
		Ledger:         ledger,
		PendingWait:    cfg.idempotencyPendingWait,
		DownloadBucket: bucket,
		DownloadSlots:  slots,
		SlotWait:       cfg.concurrencyTimeout,
		Redirect:       cfg.assetRedirect,
		Principal:      extractor,
		TrustProxy:     cfg.trustXFF,
		Stats:          statsStore,
		Metrics:        metrics,
		Logger:         logger,
	})
	router := httpapi.NewRouter(h)

	if cfg.upstreamURL != "" {
		proxy, err := newProxy(cfg.upstreamURL, logger)
		if err != nil {
			return fail(err)
		}
		keyFn := ratelimit.DefaultKeyFunc("", cfg.trustXFF)
		guarded := csrf.Middleware(csrf.Options{Guard: guard, Stats: statsStore, Logger: logger})(
			idempotency.Middleware(idempotency.Options{
				Ledger:      ledger,
				PendingWait: cfg.idempotencyPendingWait,
				AnonKeyFn:   keyFn,
				Stats:       statsStore,
				Logger:      logger,
			})(
				ratelimit.WindowMiddleware(ratelimit.WindowOptions{
					Limiter:   limiter,
					Budgets:   cfg.budgets,
					Scope:     cfg.routes.Match,
					AnonKeyFn: keyFn,
					Stats:     statsStore,
				})(proxy),
			),
		)
		router.NotFound(guarded.ServeHTTP)
		router.MethodNotAllowed(guarded.ServeHTTP)
	}

	g.handler = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(router)
	return g, nil
}

func newProxy(rawURL string, logger *slog.Logger) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: invalid UPSTREAM_URL %q", domain.ErrConfiguration, rawURL)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.ErrorContext(r.Context(), "proxy error",
			"request_id", httpapi.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		respond.Error(w, http.StatusBadGateway, "bad gateway")
	}
	return proxy, nil
}
