package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channelkeys/internal/authz"
	"channelkeys/internal/config"
	"channelkeys/internal/observability/logging"
	"channelkeys/internal/observability/metrics"
	"channelkeys/internal/service"
	"channelkeys/internal/tenant"
	httptransport "channelkeys/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "keysd",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	logger.Info("starting service", "addr", cfg.Addr, "tenant_driver", cfg.TenantDriver)

	metrics.MustRegister("keysd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tenants, err := tenant.NewRegistry(tenant.Config{
		Driver:      cfg.TenantDriver,
		DataDir:     cfg.TenantDataDir,
		DSNTemplate: cfg.TenantDSNTemplate,
		LogSQL:      cfg.LogSQL,
	})
	if err != nil {
		logger.Error("tenant registry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tenants.Close(); err != nil {
			logger.Warn("closing tenant stores", "error", err)
		}
	}()

	var auth func(http.Handler) http.Handler
	switch {
	case cfg.OperatorHS256Secret != "":
		auth = authz.NewHMACValidator(cfg.OperatorHS256Secret, cfg.OperatorIssuer).Middleware
		logger.Info("operator auth", "method", "hmac")
	case cfg.OperatorJWKSURL != "":
		v, err := authz.NewJWTValidator(ctx, cfg.OperatorJWKSURL, cfg.OperatorIssuer)
		if err != nil {
			logger.Error("jwks validator", "error", err, "url", cfg.OperatorJWKSURL)
			os.Exit(1)
		}
		defer v.Close()
		auth = v.Middleware
		logger.Info("operator auth", "method", "jwks", "url", cfg.OperatorJWKSURL)
	default:
		logger.Error("missing required env", "key", "OPERATOR_HS256_SECRET or OPERATOR_JWKS_URL")
		os.Exit(1)
	}

	svc := service.New(service.WithLogger(logger))
	handler := httptransport.NewRouter(httptransport.Deps{
		Tenants:            tenants,
		Service:            svc,
		Auth:               auth,
		Tenancy:            authz.RequireTenant,
		Log:                logger,
		MaxBatch:           cfg.MigrationBatchSize,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CORSOrigins:        cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	logger.Info("keysd listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server", "error", err)
		os.Exit(1)
	}
	logger.Info("keysd stopped")
}
