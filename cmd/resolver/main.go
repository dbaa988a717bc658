package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/austindbirch/harbor_connect/internal/api"
	"github.com/austindbirch/harbor_connect/internal/auth"
	"github.com/austindbirch/harbor_connect/internal/config"
	"github.com/austindbirch/harbor_connect/internal/db"
	"github.com/austindbirch/harbor_connect/internal/health"
	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/metrics"
	"github.com/austindbirch/harbor_connect/internal/recipients"
	"github.com/austindbirch/harbor_connect/internal/retry"
	"github.com/austindbirch/harbor_connect/internal/toggle"
	"github.com/austindbirch/harbor_connect/internal/tracing"
)

const serviceName = "harborconnect-resolver"

func retryPolicy(cfg config.Resolver) retry.Policy {
	return retry.Policy{
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		Multiplier:     cfg.RetryMultiplier,
		MaxAttempts:    cfg.RetryMaxAttempts,
	}
}

// backendLimiter returns nil when no limit is configured.
func backendLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func staticToggles(cfg config.Toggles) *toggle.StaticSource {
	return toggle.NewStaticSource(map[string]bool{
		toggle.UseKessel: cfg.UseKessel,
		toggle.UseRBAC:   cfg.UseRBAC,
		toggle.UseMBOP:   cfg.UseMBOP,
	})
}

// toggleSource serves toggles from Unleash when enabled, with the static
// configuration as fallback. The returned closer is nil for static toggles.
func toggleSource(appName string, cfg config.Toggles, logger *logging.Logger) (toggle.FlagSource, io.Closer, error) {
	static := staticToggles(cfg)
	if !cfg.UnleashEnabled {
		return static, nil, nil
	}
	checker, err := toggle.NewUnleashChecker(appName, cfg.UnleashURL, cfg.UnleashToken, logger)
	if err != nil {
		return nil, nil, err
	}
	return toggle.NewDynamicSource(checker, static), checker, nil
}

// buildProviders wires every backend; the toggles decide which one serves a call.
func buildProviders(cfg config.Resolver, directory recipients.Querier, client *http.Client) recipients.Providers {
	p := recipients.Providers{Default: recipients.NewDirectoryProvider(directory)}
	if cfg.KesselTargetURL != "" {
		p.Kessel = recipients.NewKesselProvider(cfg.KesselTargetURL, cfg.KesselUseSecureClient, client)
	}
	if cfg.RBACURL != "" {
		p.RBAC = recipients.NewRBACProvider(cfg.RBACURL, cfg.RBACPSK, client)
	}
	if cfg.MBOPURL != "" {
		p.MBOP = recipients.NewMBOPProvider(cfg.MBOPURL, cfg.MBOPAPIToken, cfg.MBOPClientID, cfg.MBOPEnv, client)
	}
	return p
}

// loadValidator prefers a configured PEM key, then the JWKS endpoint. It
// returns nil when neither is set.
func loadValidator(ctx context.Context, cfg config.Auth) (*auth.JWTValidator, error) {
	var v *auth.JWTValidator
	switch {
	case cfg.PublicKeyPEM != "":
		var err error
		if v, err = auth.NewJWTValidator(cfg.PublicKeyPEM, cfg.Issuer, cfg.Audience); err != nil {
			return nil, err
		}
	case cfg.JWKSURL != "":
		key, err := auth.FetchJWKS(ctx, cfg.JWKSURL, cfg.JWKSKeyID)
		if err != nil {
			return nil, err
		}
		v = auth.NewJWTValidatorFromKey(key, cfg.Issuer, cfg.Audience)
	default:
		return nil, nil
	}
	return v.TrustGatewayHeader(cfg.TrustGatewayHeader), nil
}

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New(serviceName)

	shutdown, err := tracing.InitTracing(ctx, tracing.Options{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// DB connect
	pool, err := db.Connect(ctx, cfg.DSN(), int32(cfg.DB.MaxConns))
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Plain().WithError(err).Fatal("db schema setup failed")
	}

	source, closer, err := toggleSource(cfg.AppName, cfg.Toggles, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("unleash client setup failed")
	}
	if closer != nil {
		defer closer.Close()
	}
	toggles := toggle.NewRegistry(source)

	backendClient := &http.Client{Timeout: cfg.Resolver.RequestTimeout}
	resolver, err := recipients.NewResolver(toggles, buildProviders(cfg.Resolver, pool, backendClient), recipients.Options{
		PageSize:  cfg.Resolver.MaxResultsPerPage,
		Policy:    retryPolicy(cfg.Resolver),
		WarnAfter: cfg.Resolver.WarnIfDurationExceeds,
		Limiter:   backendLimiter(cfg.Resolver.BackendMaxRPS),
		Logger:    logger,
	})
	if err != nil {
		logger.Plain().WithError(err).Fatal("resolver setup failed")
	}
	toggle.LogStartup(logger, toggles, cfg.Settings())

	validator, err := loadValidator(ctx, cfg.Auth)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to load JWT key")
	}
	if validator == nil {
		logger.Plain().Warn("No JWT key configured, resolver API is unauthenticated")
	}

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	router := api.NewRouter(api.New(resolver, logger), api.RouterOptions{
		Auth:           validator,
		Health:         health.HTTPHandler(map[string]health.Pinger{"database": pool}),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		RequestTimeout: cfg.Resolver.RequestTimeout,
	})

	httpSrv := &http.Server{Addr: cfg.ResolverHTTPPort, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("resolver HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("resolver HTTP server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down resolver service")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("resolver service stopped")
}
