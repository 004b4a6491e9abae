package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ecoworks/retrofit/pkg/api"
	"github.com/ecoworks/retrofit/pkg/audit"
	"github.com/ecoworks/retrofit/pkg/config"
	"github.com/ecoworks/retrofit/pkg/gateway"
	"github.com/ecoworks/retrofit/pkg/images"
	"github.com/ecoworks/retrofit/pkg/middleware"
	"github.com/ecoworks/retrofit/pkg/observability"
	"github.com/ecoworks/retrofit/pkg/oracle"
	"github.com/ecoworks/retrofit/pkg/store"
	"github.com/ecoworks/retrofit/pkg/store/postgres"
	"github.com/ecoworks/retrofit/pkg/visibility"
	"github.com/ecoworks/retrofit/pkg/worker"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (overrides RETROFIT_CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("initialize OpenTelemetry")
	}

	st, db, redisClient, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("initialize store")
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("initialize blob storage")
	}

	tokens, err := cfg.Auth.LoadTokens()
	if err != nil {
		log.WithError(err).Fatal("load auth tokens")
	}
	auth := middleware.NewStaticTokenAuthenticator(tokens)

	decisions := oracle.NewDecisionCache(0, 0)
	orc := oracle.New(st, oracle.WithCache(decisions))
	gw := gateway.New(st, orc,
		gateway.WithDecisionCache(decisions),
		gateway.WithAudit(audit.NewLogrusLogger(log)),
		gateway.WithBlobDeleter(blobs),
		gateway.WithLogger(log),
	)
	vis := visibility.New(st)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	opts := []api.Option{api.WithLogger(log), api.WithAuthenticator(auth)}
	if metrics != nil {
		opts = append(opts, api.WithMetrics(metrics))
	}
	server := api.NewServer(st, gw, vis, orc, opts...)

	handler := rateLimited(server.Handler(), redisClient)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, version))
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	janitor := worker.NewJanitor(st, metrics, log)
	if err := janitor.Start(cfg.Janitor.Schedule); err != nil {
		log.WithError(err).Fatal("start janitor")
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	startConfigWatcher(watchCtx, *configPath, log)

	go func() {
		log.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		log.WithFields(logrus.Fields{
			"addr":    httpServer.Addr,
			"version": version,
		}).Info("retrofit core listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sm := observability.NewShutdownManager(log, httpServer, cfg.Server.ShutdownTimeout.Std())
	sm.Register(func(ctx context.Context) error { return healthServer.Shutdown(ctx) })
	sm.Register(func(ctx context.Context) error { janitor.Stop(); return nil })
	sm.Register(func(ctx context.Context) error { cancelWatch(); return nil })
	sm.Register(closeStore)
	sm.Register(func(ctx context.Context) error { return observability.ShutdownOTel(ctx, providers) })

	if err := sm.Wait(); err != nil {
		log.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// buildStore wires the configured store backend. The returned close
// function releases database and cache connections.
func buildStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (store.Store, *sql.DB, *redis.Client, observability.ShutdownFunc, error) {
	if cfg.Database.Type != "postgres" {
		log.Info("using in-memory store, data will not survive restarts")
		return store.NewMemoryStore(), nil, nil, func(context.Context) error { return nil }, nil
	}

	var opts []postgres.Option
	var cache *postgres.Cache
	if cfg.Redis.Enabled {
		var err error
		cache, err = postgres.NewCache(cfg.Redis)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		opts = append(opts, postgres.WithCache(cache))
	}

	pg, err := postgres.Open(cfg.Database, opts...)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := pg.InitSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, nil, nil, err
	}

	var redisClient *redis.Client
	if cache != nil {
		redisClient = cache.Client()
	}
	closeStore := func(context.Context) error {
		if cache != nil {
			cache.Close()
		}
		return pg.Close()
	}
	return pg, pg.DB(), redisClient, closeStore, nil
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (images.BlobStore, error) {
	if cfg.Blob.Type == "s3" {
		return images.NewS3Store(ctx, cfg.Blob)
	}
	return images.NewFilesystemStore(cfg.Blob.FilesystemRoot)
}

// rateLimited picks the distributed limiter when redis is available and
// falls back to the in-process token bucket otherwise.
func rateLimited(next http.Handler, redisClient *redis.Client) http.Handler {
	if redisClient != nil {
		return middleware.NewDistributedRateLimitMiddleware(redisClient).Handler(next)
	}
	return middleware.NewRateLimitMiddleware().Handler(next)
}

// startConfigWatcher applies log level changes from config file edits.
func startConfigWatcher(ctx context.Context, path string, log *logrus.Logger) {
	if path == "" {
		return
	}
	watcher, err := config.NewWatcher(path, log)
	if err != nil {
		log.WithError(err).Warn("config watcher unavailable")
		return
	}
	watcher.OnReload(func(cfg *config.Config) {
		level, err := logrus.ParseLevel(cfg.Observability.LogLevel)
		if err != nil {
			log.WithField("level", cfg.Observability.LogLevel).Warn("ignoring invalid log level")
			return
		}
		log.SetLevel(level)
	})
	go func() {
		defer watcher.Close()
		watcher.Run(ctx)
	}()
}
