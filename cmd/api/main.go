// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	redis_rate "github.com/go-redis/redis_rate/v10"
	goredis "github.com/redis/go-redis/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carterperez-dev/templates/credential-engine/internal/admin"
	"github.com/carterperez-dev/templates/credential-engine/internal/config"
	"github.com/carterperez-dev/templates/credential-engine/internal/core"
	"github.com/carterperez-dev/templates/credential-engine/internal/credential"
	"github.com/carterperez-dev/templates/credential-engine/internal/health"
	"github.com/carterperez-dev/templates/credential-engine/internal/middleware"
	"github.com/carterperez-dev/templates/credential-engine/internal/principal"
	"github.com/carterperez-dev/templates/credential-engine/internal/server"
	"github.com/carterperez-dev/templates/credential-engine/internal/session"
	"github.com/carterperez-dev/templates/credential-engine/internal/token"
)

const (
	drainDelay = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	generateKeys := flag.Bool("generate-keys", false, "write a new ES256 key pair and exit")
	privateKeyPath := flag.String("private-key", "keys/private.pem", "private key path for -generate-keys")
	publicKeyPath := flag.String("public-key", "keys/public.pem", "public key path for -generate-keys")
	flag.Parse()

	if *generateKeys {
		if err := token.GenerateKeyPair(*privateKeyPath, *publicKeyPath); err != nil {
			slog.Error("key generation failed", "error", err)
			os.Exit(1)
		}
		slog.Info("key pair written",
			"private_key", *privateKeyPath,
			"public_key", *publicKeyPath,
		)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// backend bundles whatever the configured store driver needs to expose.
type backend struct {
	store      credential.Store
	principals principal.Repository
	db         *core.Database
}

func openBackend(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (*backend, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory credential store, state is lost on restart")
		return &backend{
			store:      credential.NewMemoryStore(),
			principals: principal.NewMemoryRepository(),
		}, nil
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	if cfg.Store.AutoMigrate {
		ddl := append(append([]string{}, credential.Schema...), principal.Schema...)
		if err := db.Migrate(ctx, ddl...); err != nil {
			_ = db.Close() //nolint:errcheck // startup failure cleanup
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema applied")
	}

	return &backend{
		store:      credential.NewPostgresStore(db.DB),
		principals: principal.NewRepository(db.DB),
		db:         db,
	}, nil
}

// openRedis returns nil when no URL is configured. Rate limits then count per
// process and the reaper runs without a lock.
func openRedis(
	ctx context.Context,
	cfg config.RedisConfig,
	logger *slog.Logger,
) (*core.Redis, error) {
	if cfg.URL == "" {
		logger.Warn("redis not configured, rate limits are per instance")
		return nil, nil //nolint:nilnil // redis is optional
	}

	redis, err := core.NewRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("redis connected",
		"pool_size", cfg.PoolSize,
	)
	return redis, nil
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"store", cfg.Store.Driver,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	redis, err := openRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}

	issuer, err := token.New(cfg.Token)
	if err != nil {
		return err
	}
	logger.Info("access token issuer initialized",
		"algorithm", issuer.Algorithm(),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := credential.NewMetrics(registry)

	engine := credential.NewEngine(be.store, cfg.Credential,
		credential.WithLogger(logger.With("component", "credential")),
		credential.WithMetrics(metrics),
	)

	principalSvc := principal.NewService(
		be.principals,
		engine,
		principal.NewLogNotifier(logger.With("component", "notifier")),
		logger,
	)
	principalHandler := principal.NewHandler(principalSvc)

	sessionSvc := session.NewService(engine, issuer, logger.With("component", "session"))
	sessionHandler := session.NewHandler(
		sessionSvc,
		principalSvc,
		session.NewCookies(cfg.Cookie),
		logger,
	)

	var checks []health.Check
	adminCfg := admin.HandlerConfig{
		Sessions:   engine,
		Principals: principalSvc,
	}
	if redis != nil {
		checks = append(checks, health.Check{Name: "redis", Checker: redis})
		adminCfg.RedisStats = redis.PoolStats
		adminCfg.RedisPing = redis.Ping
	}
	if be.db != nil {
		checks = append(checks, health.Check{Name: "database", Checker: be.db})
		adminCfg.DBStats = be.db.Stats
		adminCfg.DBPing = be.db.Ping
	}
	healthHandler := health.NewHandler(checks...)
	adminHandler := admin.NewHandler(adminCfg)

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	var redisClient *goredis.Client
	if redis != nil {
		redisClient = redis.Client
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(redisClient, middleware.RateLimitConfig{
			Limit: redis_rate.Limit{
				Rate:   cfg.RateLimit.Requests,
				Burst:  cfg.RateLimit.Burst,
				Period: cfg.RateLimit.Window,
			},
			FailOpen: true,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if es, ok := issuer.(*token.ES256Issuer); ok {
		router.Get("/.well-known/jwks.json", es.JWKSHandler())
	}

	authenticator := middleware.Authenticator(issuer)
	requireAdmin := middleware.RequireAdmin(cfg.Admin.PrincipalIDs)
	adminLimiter := middleware.NewRateLimiter(redisClient, middleware.RateLimitConfig{
		Limit: redis_rate.Limit{
			Rate:   cfg.RateLimit.Requests,
			Burst:  cfg.RateLimit.Burst,
			Period: cfg.RateLimit.Window,
		},
		KeyFunc:  middleware.KeyByPrincipal,
		FailOpen: true,
	}).Handler
	adminOnly := func(next http.Handler) http.Handler {
		return requireAdmin(adminLimiter(next))
	}
	authLimiter := middleware.NewRateLimiter(redisClient, middleware.RateLimitConfig{
		Limit: redis_rate.Limit{
			Rate:   cfg.RateLimit.AuthRequests,
			Burst:  cfg.RateLimit.AuthBurst,
			Period: cfg.RateLimit.Window,
		},
		KeyFunc:  middleware.KeyByIPAndEndpoint,
		FailOpen: false,
	}).Handler

	router.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			sessionHandler.RegisterRoutes(r, authenticator, authLimiter)
			principalHandler.RegisterRoutes(r, authenticator, authLimiter)
		})

		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()

	if cfg.Reaper.Enabled {
		var locker credential.Locker
		if redis != nil {
			locker = redis
		}
		reaper := credential.NewReaper(
			be.store,
			locker,
			cfg.Reaper,
			logger.With("component", "reaper"),
			metrics,
		)
		go reaper.Run(reaperCtx)
		logger.Info("credential reaper started",
			"interval", cfg.Reaper.Interval,
			"grace", cfg.Reaper.Grace,
		)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if redis != nil {
		if err := redis.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	if be.db != nil {
		if err := be.db.Close(); err != nil {
			logger.Error("database close error", "error", err)
		}
	}

	logger.Info("application stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
