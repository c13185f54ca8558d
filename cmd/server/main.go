package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/analytics"
	"github.com/affbridge/affbridge/internal/api"
	"github.com/affbridge/affbridge/internal/config"
	"github.com/affbridge/affbridge/internal/db"
	"github.com/affbridge/affbridge/internal/geoip"
	"github.com/affbridge/affbridge/internal/logic/ratelimit"
	"github.com/affbridge/affbridge/internal/observability"
	"github.com/affbridge/affbridge/internal/recorder"
	"github.com/affbridge/affbridge/internal/store"
	"github.com/affbridge/affbridge/internal/template"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLogger(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		_ = logger.Sync()
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.OTLPEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	var redisStore *db.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = db.InitRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer redisStore.Close()
	}

	var analyticsSvc *analytics.Analytics
	if cfg.ClickHouseDSN != "" {
		analyticsSvc, err = analytics.InitClickHouse(cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer analyticsSvc.Close()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	classifier := geoip.New(geoip.Options{
		PathV4:         cfg.IPDBPathV4,
		PathV6:         cfg.IPDBPathV6,
		AllowCountries: cfg.AllowCountries,
		DatacenterISPs: cfg.DatacenterISPs,
		CacheSize:      cfg.IPCacheSize,
		CacheTTL:       cfg.IPCacheTTL,
	}, logger)
	defer func() { _ = classifier.Close() }()

	templates := template.NewStore(cfg.TemplatePath, logger)

	linkStore := store.NewLinkStore(pg, logger)
	bannerStore := store.NewBannerStore(pg, rand.NewSource(time.Now().UnixNano()), logger)

	var queue recorder.Queue
	if redisStore != nil {
		queue = recorder.NewRedisQueue(redisStore.Client, cfg.ClickQueueSize, logger)
	} else {
		queue = recorder.NewMemoryQueue(cfg.ClickQueueSize)
	}
	var eventSink recorder.EventSink
	if analyticsSvc != nil {
		eventSink = analyticsSvc
	}
	rec := recorder.New(queue, linkStore, eventSink, metricsRegistry, logger, recorder.Options{
		Workers:      cfg.ClickWorkers,
		WriteTimeout: cfg.RequestTimeout,
	})
	rec.Start()

	var limiter *ratelimit.SlidingWindow
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewSlidingWindow(cfg.RateLimitPerMinute, time.Minute)
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					limiter.Sweep(time.Now())
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	srvDeps := api.NewServer(logger, linkStore, bannerStore, rec, templates, classifier, limiter, metricsRegistry, cfg, pg, redisStore)

	mainSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srvDeps.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	bridgeSrv := &http.Server{
		Addr:         ":" + cfg.BridgePort,
		Handler:      srvDeps.BridgeRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("landing server running", zap.String("addr", mainSrv.Addr))
		if err := mainSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("landing listen: %w", err)
		}
	}()
	go func() {
		logger.Info("bridge server running", zap.String("addr", bridgeSrv.Addr))
		if err := bridgeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("bridge listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mainSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("landing shutdown", zap.Error(err))
	}
	if err := bridgeSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("bridge shutdown", zap.Error(err))
	}

	// Drain queued clicks before the stores close underneath the workers.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ClickDrainTimeout)
	defer cancelDrain()
	if err := rec.Close(drainCtx); err != nil {
		logger.Warn("click queue not fully drained", zap.Error(err), zap.Int64("dropped", rec.Dropped()))
	}

	return nil
}
