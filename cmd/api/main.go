package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"streamlink/docs"
	"streamlink/internal/config"
	"streamlink/internal/database"
	"streamlink/internal/database/migration"
	handlers "streamlink/internal/http/handler"
	"streamlink/internal/http/middleware"
	"streamlink/internal/logger"
	"streamlink/internal/metrics"
	streamotel "streamlink/internal/otel"
	"streamlink/internal/repository"
	"streamlink/internal/repository/memory"
	"streamlink/internal/repository/postgres"
	redisx "streamlink/internal/repository/redis"
	"streamlink/internal/service"
	"streamlink/internal/storage"
	"streamlink/internal/sweeper"
	"streamlink/internal/upstream"
)

// @title Streamlink API
// @version 1.0
// @description Token-addressed streaming proxy in front of a credentialed object store.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logger.New(os.Stdout, cfg.Location(), cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server_exit", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := streamotel.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	client := upstream.NewClient(cfg.Upstream)
	resolver, err := newResolver(cfg, client, log)
	if err != nil {
		return err
	}

	links := service.NewLinkService(store, service.LinkOptions{
		TTL:           cfg.Link.TTL(),
		PublicBaseURL: cfg.Link.PublicBaseURL,
		StreamPrefix:  cfg.Link.StreamPrefix,
	}, log, m)
	streams := service.NewStreamService(links, resolver, client, cfg.Link.ChunkSize, log, m)

	sw := sweeper.New(links, cfg.Link.SweepInterval(), log, m)
	sw.Start()

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		DisableStartupMessage: true,
		IdleTimeout:           120 * time.Second,
		ReadTimeout:           30 * time.Second,
	})

	// Register global middleware
	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return c.Path() == "/metrics"
	})))
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger(log))
	app.Use(promMiddleware.Handler())

	handlers.RegisterRoutes(app, handlers.Deps{
		Links:        links,
		Streams:      streams,
		Store:        store,
		StreamPrefix: cfg.Link.StreamPrefix,
		AdminAPIKey:  cfg.AdminAPIKey,
		Gatherer:     reg,
	})

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("server_started",
			"addr", addr,
			"store_backend", cfg.StoreBackend,
			"upstream_kind", cfg.Upstream.Kind,
			"expiry_hours", cfg.Link.ExpiryHours,
		)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown_started")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("http_shutdown_failed", "error", err.Error())
	}
	if err := sw.Stop(shutdownCtx); err != nil {
		log.Error("sweeper_shutdown_failed", "error", err.Error())
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing_shutdown_failed", "error", err.Error())
	}
	log.Info("shutdown_complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (repository.LinkRepository, func(), error) {
	switch cfg.StoreBackend {
	case "memory", "":
		return memory.NewLinkMemory(cfg.Link.SweepBatchSize), func() {}, nil

	case "postgres":
		// Initialize PostgreSQL connection (with pooling via database/sql)
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return postgres.NewLinkPostgres(db, cfg.Link.SweepBatchSize), closer(log, "postgres", db), nil

	case "redis":
		rdb, err := database.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisx.NewLinkRedis(rdb, cfg.Redis.KeyPrefix, cfg.Link.SweepBatchSize), closer(log, "redis", rdb), nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func closer(log *slog.Logger, name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			log.Error("store_close_failed", "store", name, "error", err.Error())
		}
	}
}

func newResolver(cfg *config.AppConfig, client *upstream.Client, log *slog.Logger) (upstream.Resolver, error) {
	probe := time.Duration(cfg.Upstream.ProbeTimeoutSec) * time.Second
	switch cfg.Upstream.Kind {
	case "http", "":
		r, err := upstream.NewHTTPResolver(client, cfg.Upstream.BaseURL, cfg.Upstream.Token, cfg.Upstream.PathTemplate, probe, log)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream config: %w", err)
		}
		return r, nil

	case "s3":
		// Initialize reusable S3-compatible object storage client (MinIO-supported)
		objStore, err := storage.NewMinIO(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		ttl := time.Duration(cfg.MinIO.PresignTTLSec) * time.Second
		return upstream.NewS3Resolver(objStore, ttl, probe, log), nil

	default:
		return nil, fmt.Errorf("unknown UPSTREAM_KIND %q", cfg.Upstream.Kind)
	}
}
