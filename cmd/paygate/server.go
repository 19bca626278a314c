package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/deposit"
	"github.com/mark3labs/x402-paygate/deposit/hdwallet"
	"github.com/mark3labs/x402-paygate/deposit/stripe"
	"github.com/mark3labs/x402-paygate/facilitator/cdp"
	"github.com/mark3labs/x402-paygate/gate"
	httpx402 "github.com/mark3labs/x402-paygate/http"
	chix402 "github.com/mark3labs/x402-paygate/http/chi"
	"github.com/mark3labs/x402-paygate/metrics"
	"github.com/mark3labs/x402-paygate/reconcile"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	cfg := &serverConfig{}
	cmd := &cobra.Command{
		Use:           "paygate",
		Short:         "Serve GET /paid behind an x402 payment gate",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := loadEnvFile(envFile); err != nil {
				return fail(cmd, err)
			}
			if err := applyEnv(cmd); err != nil {
				return fail(cmd, err)
			}
			if err := cfg.validate(); err != nil {
				return fail(cmd, err)
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel()}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("server stopped", "error", err)
				return err
			}
			return nil
		},
	}
	bindFlags(cmd, cfg)
	return cmd
}

func fail(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	return err
}

// newProcessor picks the HD wallet when a key is configured and Stripe otherwise.
func newProcessor(cfg *serverConfig, logger *slog.Logger) (deposit.Processor, error) {
	opts := []hdwallet.Option{hdwallet.WithStartIndex(cfg.HDStartIndex)}
	switch {
	case cfg.HDXPub != "":
		logger.Info("deriving deposit addresses from extended public key")
		return hdwallet.FromExtendedKey(cfg.HDXPub, opts...)
	case cfg.HDMnemonic != "":
		logger.Info("deriving deposit addresses from mnemonic", "path", hdwallet.DerivationPath)
		return hdwallet.FromMnemonic(cfg.HDMnemonic, opts...)
	default:
		return stripe.New(stripe.Config{SecretKey: cfg.StripeSecretKey, MaxRetries: 2, Logger: logger})
	}
}

func newRecorder(ctx context.Context, cfg *serverConfig, logger *slog.Logger) (reconcile.Recorder, func(), error) {
	logRecorder := reconcile.LogRecorder{Logger: logger}
	if cfg.RedisURL == "" {
		return logRecorder, func() {}, nil
	}
	client, err := reconcile.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("recording settlement failures to redis", "stream", reconcile.DefaultStream)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}
	return reconcile.Multi(logRecorder, reconcile.NewRedisRecorder(client)), closeFn, nil
}

// gateConfig assembles the middleware configuration for GET /paid.
func gateConfig(cfg *serverConfig, resolver x402.PayToResolver, recorder reconcile.Recorder, m metrics.Recorder, logger *slog.Logger) (*httpx402.Config, error) {
	config := &httpx402.Config{
		FacilitatorURL:         cfg.FacilitatorURL,
		FallbackFacilitatorURL: cfg.FallbackFacilitatorURL,
		VerifyOnly:             cfg.VerifyOnly,
		Recorder:               recorder,
		Metrics:                m,
		Logger:                 logger,
		Routes: map[string]x402.RouteConfig{
			"GET /paid": {
				Accepts: []x402.PaymentOption{{
					Scheme:  x402.SchemeExact,
					Price:   cfg.Price,
					Network: cfg.Network,
					PayTo:   resolver,
				}},
				Description: "Data retrieval endpoint",
				MimeType:    "application/json",
			},
		},
	}
	if cfg.CDPKeyName != "" {
		auth, err := cdp.NewAuth(cfg.CDPKeyName, cfg.CDPKeySecret)
		if err != nil {
			return nil, err
		}
		config.FacilitatorAuthorizationProvider = auth.Provider(logger)
	}
	return config, nil
}

// newMetrics returns the gate recorder and the registry served on /metrics.
func newMetrics() (*metrics.PrometheusRecorder, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		return nil, nil, err
	}
	return rec, reg, nil
}

// newRouter serves the gated endpoint, a free health check and, when gatherer
// is set, the metrics endpoint.
func newRouter(g *gate.Gate, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	chix402.Mount(r, g, http.MethodGet, "/paid", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"foo": "bar"})
	}, logger)
	return r
}

func run(ctx context.Context, cfg *serverConfig, logger *slog.Logger) error {
	processor, err := newProcessor(cfg, logger)
	if err != nil {
		return err
	}
	recorder, closeRecorder, err := newRecorder(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRecorder()

	rec, reg, err := newMetrics()
	if err != nil {
		return err
	}

	config, err := gateConfig(cfg, deposit.NewResolver(processor, deposit.WithLogger(logger)), recorder, rec, logger)
	if err != nil {
		return err
	}
	g, err := httpx402.NewGate(config)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           newRouter(g, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "network", cfg.Network, "price", cfg.Price, "facilitator", cfg.FacilitatorURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
