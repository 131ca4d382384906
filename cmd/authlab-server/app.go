package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/httpapi"
	"github.com/ksm067300-arch/auth-lab/internal/appconfig"
	"github.com/ksm067300-arch/auth-lab/internal/logx"
	"github.com/ksm067300-arch/auth-lab/internal/telemetry"
	otelexport "github.com/ksm067300-arch/auth-lab/metrics/export/otel"
	promexport "github.com/ksm067300-arch/auth-lab/metrics/export/prometheus"
	"github.com/ksm067300-arch/auth-lab/middleware"
	"github.com/ksm067300-arch/auth-lab/store/sqlite"
)

type app struct {
	cfg     appconfig.Config
	log     *slog.Logger
	engine  *authlab.Engine
	http    *http.Server
	closers []func()
}

func newApp(ctx context.Context, configPath string, logOut io.Writer) (_ *app, err error) {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.log = logx.New(logOut, logx.Config{
		Service: cfg.Log.Service,
		Version: version,
		Env:     cfg.Log.Env,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})

	rdb, err := a.connectRedis(ctx)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	a.closers = append(a.closers, func() { _ = store.Close() })

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.HasSigningKeys() {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		engineCfg.JWT.PrivateKey = priv
		engineCfg.JWT.PublicKey = pub
		a.log.Warn("using an ephemeral ed25519 signing key; tokens will not survive a restart")
	}

	builder := authlab.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithLogger(a.log.With("component", "engine"))
	if engineCfg.Audit.Enabled {
		builder = builder.WithAuditSink(authlab.NewSlogSink(a.log.With("component", "audit")))
	}
	a.engine, err = builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	a.closers = append(a.closers, a.engine.Close)
	a.logSecurityPosture(engineCfg)

	var metrics http.Handler
	if cfg.Metrics.Enabled {
		metrics = promexport.NewPrometheusExporter(a.engine).Handler()
		if cfg.Metrics.OTLPEndpoint != "" {
			if err := a.startOTel(ctx); err != nil {
				return nil, err
			}
		}
	}

	srv, err := httpapi.NewServer(a.engine, httpapi.Options{
		Logger:         a.log.With("component", "http"),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Server.RequestsPerMinute,
			Window:            time.Minute,
			Burst:             cfg.Server.Burst,
			TrustProxy:        cfg.Server.TrustProxy,
		},
		Metrics:     metrics,
		MetricsPath: cfg.Metrics.Path,
		QRSize:      cfg.Server.QRSize,
	})
	if err != nil {
		return nil, err
	}

	a.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	return a, nil
}

// connectRedis dials redis, or starts an embedded miniredis, and waits
// until it answers PING.
func (a *app) connectRedis(ctx context.Context) (redis.UniversalClient, error) {
	addr := a.cfg.Redis.Addr
	if a.cfg.Redis.Embedded {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start embedded redis: %w", err)
		}
		a.closers = append(a.closers, mr.Close)
		addr = mr.Addr()
		a.log.Warn("using embedded in-memory redis; state is lost on exit", "addr", addr)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	backoff := retry.WithMaxRetries(a.cfg.Redis.ConnectRetries,
		retry.WithCappedDuration(5*time.Second, retry.NewExponential(a.cfg.Redis.RetryBackoff)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.log.Warn("redis not ready", "addr", addr, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

func (a *app) startOTel(ctx context.Context) error {
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.Config{
		ServiceName:    a.cfg.Log.Service,
		ServiceVersion: version,
		Environment:    a.cfg.Log.Env,
		Endpoint:       a.cfg.Metrics.OTLPEndpoint,
		Insecure:       a.cfg.Metrics.OTLPInsecure,
		Interval:       a.cfg.Metrics.OTLPInterval,
	})
	if err != nil {
		return fmt.Errorf("otel meter provider: %w", err)
	}
	a.closers = append(a.closers, func() { shutdownMeterProvider(mp, a.log) })

	exp, err := otelexport.NewOTelExporter(mp.Meter("github.com/ksm067300-arch/auth-lab"), a.engine)
	if err != nil {
		return fmt.Errorf("otel exporter: %w", err)
	}
	a.closers = append(a.closers, func() { _ = exp.Close() })
	a.log.Info("exporting metrics over otlp", "endpoint", a.cfg.Metrics.OTLPEndpoint)
	return nil
}

func shutdownMeterProvider(mp *sdkmetric.MeterProvider, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mp.Shutdown(ctx); err != nil {
		log.Warn("otel shutdown", "error", err)
	}
}

func (a *app) logSecurityPosture(cfg authlab.Config) {
	r := a.engine.SecurityReport()
	a.log.Info("engine ready",
		"signing", r.SigningAlgorithm,
		"preauth_ttl", r.PreAuthTTL,
		"preauth_max_attempts", r.PreAuthMaxAttempts,
		"session_ttl", r.SessionTTL,
		"totp_skew", r.TOTP.Skew,
		"rate_limiting", r.RateLimitingActive,
		"audit", r.AuditEnabled,
	)
	for _, w := range cfg.Lint() {
		a.log.Warn("config lint", "code", w.Code, "severity", w.Severity.String(), "message", w.Message)
	}
}

// close releases resources in reverse acquisition order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
