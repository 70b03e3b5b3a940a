package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asset-gateway/middleware/domain"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "signed asset links, per-action rate limits, idempotent writes and origin checks in front of an app",
		Long:          `gateway guards an app: signed asset links, per-action rate limits, idempotent
writes and origin checks.

Identity comes from X-Principal-Id / X-Principal-Role, set by the auth proxy in
front of the gateway. The gateway does not authenticate. Either keep it reachable
only through that proxy, or set PRINCIPAL_TRUSTED_PEERS so the headers are
dropped from every other peer.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # standalone, in-memory counters
  URL_SIGNING_SECRET=dev gateway serve

  # shared counters and S3 assets, proxying the app
  REDIS_URL=redis://localhost:6379/0 STORAGE_BUCKET=assets UPSTREAM_URL=http://localhost:3000 \
  RATE_ROUTES="POST /api/generate=generate,POST /api/remove-bg=bg_remove" \
  PRINCIPAL_TRUSTED_PEERS=10.0.0.0/8 gateway serve

  # operator link
  gateway sign --asset 3f0c... --disp attachment --ttl 10m
`,
	}
	registerFlags(root)
	root.AddCommand(newServeCommand(), newSignCommand())
	return root
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func commandConfig(cmd *cobra.Command) (config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return config{}, err
	}
	return loadConfig(v)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := commandConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.logLevel)
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config, logger *slog.Logger) error {
	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		"addr", cfg.listenAddr,
		"env", cfg.env,
		"base_url", cfg.baseURL,
		"upstream", cfg.upstreamURL,
	)
	logger.Info("guards",
		"distributed", cfg.redisURL != "",
		"budgets", cfg.budgets.Scopes(),
		"routes", len(cfg.routes),
		"csrf_require_origin", cfg.csrfRequireOrigin,
		"idempotency_ttl", cfg.idempotencyTTL,
		"pending_wait", cfg.idempotencyPendingWait,
	)
	logger.Info("downloads",
		"rps", cfg.downloadRPS,
		"burst", cfg.downloadBurst,
		"concurrency", cfg.downloadConcurrency,
		"redirect", cfg.assetRedirect,
		"s3", cfg.storage.Bucket != "",
		"postgres", cfg.databaseURL != "",
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newSignCommand() *cobra.Command {
	var (
		assetID string
		disp    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "print a signed download URL for an asset (no ownership check)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := commandConfig(cmd)
			if err != nil {
				return err
			}
			urls, err := loadSigner(cfg, newLogger(slog.LevelWarn))
			if err != nil {
				return err
			}
			signed, err := urls.Issue(assetID, domain.DisplayMode(disp), ttl)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, signed.URL)
			fmt.Fprintln(out, "expires:", signed.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&assetID, "asset", "", "asset id")
	cmd.Flags().StringVar(&disp, "disp", string(domain.DisplayInline), "inline or attachment")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (default SIGNED_URL_TTL)")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}
