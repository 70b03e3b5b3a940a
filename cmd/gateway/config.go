package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"asset-gateway/middleware/domain"
	"asset-gateway/middleware/infra"
	"asset-gateway/middleware/principal"
	"asset-gateway/middleware/ratelimit"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type config struct {
	env        string
	production bool
	logLevel   slog.Level

	listenAddr  string
	upstreamURL string
	baseURL     string

	signingSecret   string
	signedURLTTL    time.Duration
	signedURLMaxTTL time.Duration

	redisURL     string
	redisToken   string
	storeTimeout time.Duration

	csrfRequireOrigin bool

	idempotencyTTL         time.Duration
	idempotencyPendingWait time.Duration

	rateWindow time.Duration
	budgets    ratelimit.Budgets
	routes     ratelimit.RouteScopes

	principalHeader     string
	principalRoleHeader string
	trustedPeers        []netip.Prefix
	trustXFF            bool

	databaseURL   string
	storage       infra.MinioConfig
	assetRedirect bool

	downloadRPS         float64
	downloadBurst       int
	downloadConcurrency int
	concurrencyMax      int
	concurrencyTimeout  time.Duration

	statsEnabled   bool
	statsPrefix    string
	statsTTL       time.Duration
	statsTrackKeys bool
	metricsEnabled bool
}

// registerFlags declara as flags; cada uma também pode vir do ambiente em
// MAIÚSCULAS com "_" (listen-addr -> LISTEN_ADDR).
func registerFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("app-env", "development", "environment name; production refuses insecure defaults")
	f.String("log-level", "info", "debug, info, warn or error")
	f.String("listen-addr", ":8080", "HTTP listen address")
	f.String("upstream-url", "", "reverse-proxy everything else to this URL (optional)")
	f.String("base-url", "", "canonical origin of the app, e.g. https://app.example.com")

	f.String("url-signing-secret", "", "HMAC secret for signed URLs")
	f.Duration("signed-url-ttl", 5*time.Minute, "default lifetime of signed URLs")
	f.Duration("signed-url-max-ttl", time.Hour, "maximum lifetime of signed URLs")

	f.String("redis-url", "", "redis:// URL for shared counters (optional)")
	f.String("redis-token", "", "redis password, when not in the URL")
	f.Duration("store-timeout", 300*time.Millisecond, "timeout for each counter store call")

	f.Bool("csrf-require-origin", false, "deny writes without Origin and Referer")

	f.Duration("idempotency-ttl", 10*time.Minute, "lifetime of idempotency records")
	f.Duration("idempotency-pending-wait", 0, "how long duplicates wait for the first request (0 = 409 immediately)")

	f.Duration("rate-window", time.Minute, "default fixed window for RATE_LIMITS")
	f.String("rate-limits", "sign=30,generate=15,bg_remove=10", "per-action budgets, scope=max[/window]")
	f.String("rate-routes", "", "proxied routes to scopes, e.g. \"POST /api/generate=generate\"")

	f.String("principal-header", "X-Principal-Id", "header carrying the authenticated principal id")
	f.String("principal-role-header", "X-Principal-Role", "header carrying principal roles")
	f.String("principal-trusted-peers", "", "IPs/CIDRs allowed to send principal headers; empty trusts every peer, so the gateway must sit behind the auth proxy")
	f.Bool("trust-xff", false, "trust X-Forwarded-For / X-Real-IP / CF-Connecting-IP")

	f.String("database-url", "", "postgres DSN for the assets table (optional)")
	f.String("storage-endpoint", "", "S3-compatible endpoint, e.g. https://s3.amazonaws.com")
	f.String("storage-region", "", "object storage region")
	f.String("storage-bucket", "", "object storage bucket (empty disables S3)")
	f.String("storage-access-key-id", "", "object storage access key")
	f.String("storage-secret-access-key", "", "object storage secret key")
	f.Bool("storage-insecure", false, "plain HTTP to the storage endpoint")
	f.Bool("asset-redirect", true, "redirect downloads to presigned storage URLs when possible")

	f.Float64("download-rps", 10, "per-IP token bucket rate on the download resolver")
	f.Int("download-burst", 20, "per-IP token bucket burst on the download resolver")
	f.Int("download-concurrency", 32, "simultaneous streamed downloads")
	f.Int("concurrency-max", 100, "simultaneous requests overall (0 disables)")
	f.Duration("concurrency-timeout", 0, "wait for a free slot before answering 503")

	f.Bool("rate-stats-enabled", false, "record guard decisions in redis hashes")
	f.String("rate-stats-prefix", "assetgw:stats", "redis key prefix for stats")
	f.Duration("rate-stats-ttl", 24*time.Hour, "ttl of stats hashes")
	f.Bool("rate-stats-track-keys", false, "also count per key (high cardinality)")
	f.Bool("metrics-enabled", true, "expose /metrics")
}

func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}

func loadConfig(v *viper.Viper) (config, error) {
	cfg := config{}
	cfg.env = strings.ToLower(strings.TrimSpace(v.GetString("app-env")))
	cfg.production = cfg.env == "production" || cfg.env == "prod"
	if err := cfg.logLevel.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return config{}, fmt.Errorf("%w: LOG_LEVEL: %v", domain.ErrConfiguration, err)
	}

	cfg.listenAddr = v.GetString("listen-addr")
	cfg.upstreamURL = strings.TrimSpace(v.GetString("upstream-url"))
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(v.GetString("base-url")), "/")

	cfg.signingSecret = v.GetString("url-signing-secret")
	cfg.signedURLTTL = v.GetDuration("signed-url-ttl")
	cfg.signedURLMaxTTL = v.GetDuration("signed-url-max-ttl")

	cfg.redisURL = strings.TrimSpace(v.GetString("redis-url"))
	cfg.redisToken = v.GetString("redis-token")
	cfg.storeTimeout = v.GetDuration("store-timeout")

	cfg.csrfRequireOrigin = v.GetBool("csrf-require-origin")

	cfg.idempotencyTTL = v.GetDuration("idempotency-ttl")
	cfg.idempotencyPendingWait = v.GetDuration("idempotency-pending-wait")

	cfg.rateWindow = v.GetDuration("rate-window")
	budgets, err := ratelimit.ParseBudgets(v.GetString("rate-limits"), cfg.rateWindow)
	if err != nil {
		return config{}, err
	}
	cfg.budgets = budgets
	routes, err := ratelimit.ParseRoutes(v.GetString("rate-routes"))
	if err != nil {
		return config{}, err
	}
	cfg.routes = routes

	cfg.principalHeader = v.GetString("principal-header")
	cfg.principalRoleHeader = v.GetString("principal-role-header")
	peers, err := principal.ParsePeers(v.GetString("principal-trusted-peers"))
	if err != nil {
		return config{}, err
	}
	cfg.trustedPeers = peers
	cfg.trustXFF = v.GetBool("trust-xff")

	cfg.databaseURL = strings.TrimSpace(v.GetString("database-url"))
	cfg.storage = infra.MinioConfig{
		Endpoint:        v.GetString("storage-endpoint"),
		Region:          v.GetString("storage-region"),
		Bucket:          strings.TrimSpace(v.GetString("storage-bucket")),
		AccessKeyID:     v.GetString("storage-access-key-id"),
		SecretAccessKey: v.GetString("storage-secret-access-key"),
		Insecure:        v.GetBool("storage-insecure"),
	}
	cfg.assetRedirect = v.GetBool("asset-redirect")

	cfg.downloadRPS = v.GetFloat64("download-rps")
	cfg.downloadBurst = v.GetInt("download-burst")
	cfg.downloadConcurrency = v.GetInt("download-concurrency")
	cfg.concurrencyMax = v.GetInt("concurrency-max")
	cfg.concurrencyTimeout = v.GetDuration("concurrency-timeout")

	cfg.statsEnabled = v.GetBool("rate-stats-enabled")
	cfg.statsPrefix = v.GetString("rate-stats-prefix")
	cfg.statsTTL = v.GetDuration("rate-stats-ttl")
	cfg.statsTrackKeys = v.GetBool("rate-stats-track-keys")
	cfg.metricsEnabled = v.GetBool("metrics-enabled")

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	if c.baseURL == "" {
		if c.production {
			return fmt.Errorf("%w: BASE_URL is required in production", domain.ErrConfiguration)
		}
		port := "8080"
		if _, p, err := net.SplitHostPort(c.listenAddr); err == nil && p != "" {
			port = p
		}
		c.baseURL = "http://localhost:" + port
	}
	switch {
	case c.signedURLTTL <= 0 || c.signedURLMaxTTL <= 0:
		return fmt.Errorf("%w: SIGNED_URL_TTL and SIGNED_URL_MAX_TTL must be > 0", domain.ErrConfiguration)
	case c.signedURLTTL > c.signedURLMaxTTL:
		return fmt.Errorf("%w: SIGNED_URL_TTL exceeds SIGNED_URL_MAX_TTL", domain.ErrConfiguration)
	case c.idempotencyTTL <= 0:
		return fmt.Errorf("%w: IDEMPOTENCY_TTL must be > 0", domain.ErrConfiguration)
	case c.idempotencyPendingWait < 0:
		return fmt.Errorf("%w: IDEMPOTENCY_PENDING_WAIT must be >= 0", domain.ErrConfiguration)
	case c.rateWindow <= 0:
		return fmt.Errorf("%w: RATE_WINDOW must be > 0", domain.ErrConfiguration)
	case c.storeTimeout <= 0:
		return fmt.Errorf("%w: STORE_TIMEOUT must be > 0", domain.ErrConfiguration)
	case c.downloadRPS <= 0 || c.downloadBurst <= 0:
		return fmt.Errorf("%w: DOWNLOAD_RPS and DOWNLOAD_BURST must be > 0", domain.ErrConfiguration)
	case c.concurrencyMax < 0 || c.downloadConcurrency < 0:
		return fmt.Errorf("%w: CONCURRENCY_MAX and DOWNLOAD_CONCURRENCY must be >= 0", domain.ErrConfiguration)
	case c.statsEnabled && c.redisURL == "":
		return fmt.Errorf("%w: REDIS_URL is required when RATE_STATS_ENABLED=true", domain.ErrConfiguration)
	case len(c.routes) > 0 && c.upstreamURL == "":
		return fmt.Errorf("%w: RATE_ROUTES needs UPSTREAM_URL", domain.ErrConfiguration)
	}
	return nil
}
