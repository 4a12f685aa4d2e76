// Command imagegate runs the multi-provider image storage gateway: an HTTP
// API that routes tenant image uploads across four blob backends with quota
// admission control, fallback chains, and a cached metadata catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platewise/imagegate/internal/cache"
	"github.com/platewise/imagegate/internal/config"
	"github.com/platewise/imagegate/internal/health"
	"github.com/platewise/imagegate/internal/metrics"
	"github.com/platewise/imagegate/internal/provider"
	"github.com/platewise/imagegate/internal/quota"
	"github.com/platewise/imagegate/internal/router"
	"github.com/platewise/imagegate/internal/service"
	"github.com/platewise/imagegate/internal/store"
	"github.com/platewise/imagegate/pkg/api"
	"github.com/platewise/imagegate/pkg/retry"
	"github.com/platewise/imagegate/pkg/types"
	"github.com/platewise/imagegate/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "imagegate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := buildLogger(cfg)
	logger.Info("starting imagegate", map[string]interface{}{
		"listen_addr": cfg.Global.ListenAddr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(cfg.Database.URL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	pg := store.New(pool)

	adapters, err := buildAdapters(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building provider adapters: %w", err)
	}

	collector := metrics.NewCollector("imagegate")

	checker := health.NewChecker(adapters, &health.Config{
		ProbeInterval: cfg.Health.ProbeInterval,
		ProbeTimeout:  cfg.Health.ProbeTimeout,
		ResultTTL:     cfg.Health.ResultTTL,
	}, logger)
	checker.SetPublisher(collector)
	checker.Start()
	defer checker.Stop()

	quotaManager := quota.NewManager(pg, cfg.Cache.QuotaTTL, logger)

	cacheManager := cache.NewManager(pg, cache.ManagerConfig{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
	}, logger)
	cacheManager.SetMetrics(collector)

	rt := router.New(checker, quotaManager, cfg.Routing.SmallFileThresholdBytes, logger)
	rt.SetObserver(collector)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	retryCfg.InitialDelay = cfg.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay
	retryer := retry.New(retryCfg)

	storage := service.New(rt, adapters, cacheManager, quotaManager, pg, retryer, collector, service.Config{
		AdapterTimeout: cfg.Providers.CallTimeout,
		CacheControl:   cfg.HTTPCache.CacheControl(),
	}, logger)

	go monthlyResetLoop(ctx, pg, quotaManager, logger)

	server := api.NewServer(storage, checker, api.Config{
		ListenAddr:     cfg.Global.ListenAddr,
		CacheControl:   cfg.HTTPCache.CacheControl(),
		MetricsHandler: collector.Handler(),
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildLogger(cfg *config.Configuration) *utils.StructuredLogger {
	logCfg := utils.DefaultStructuredLoggerConfig()
	if level, err := utils.ParseLogLevel(cfg.Global.LogLevel); err == nil {
		logCfg.Level = level
	}
	if format, err := utils.ParseLogFormat(cfg.Global.LogFormat); err == nil {
		logCfg.Format = format
	}
	return utils.NewStructuredLogger(logCfg)
}

func buildAdapters(ctx context.Context, cfg *config.Configuration, logger *utils.StructuredLogger) (map[types.Backend]types.ProviderAdapter, error) {
	s3cdn, err := provider.NewS3CDN(ctx, cfg.Providers.S3CDN, logger)
	if err != nil {
		return nil, err
	}
	imgcdn, err := provider.NewImgCDN(cfg.Providers.ImgCDN, logger)
	if err != nil {
		return nil, err
	}
	minioAdapter, err := provider.NewMinIO(cfg.Providers.MinIO, logger)
	if err != nil {
		return nil, err
	}
	photoarc, err := provider.NewPhotoArc(cfg.Providers.PhotoArc, logger)
	if err != nil {
		return nil, err
	}
	return map[types.Backend]types.ProviderAdapter{
		types.BackendS3CDN:    s3cdn,
		types.BackendImgCDN:   imgcdn,
		types.BackendMinIO:    minioAdapter,
		types.BackendPhotoArc: photoarc,
	}, nil
}

// monthlyResetLoop zeroes monthly quota counters once a new UTC month
// begins. The check runs hourly; a restart mid-month is safe because the
// store records the last reset time.
func monthlyResetLoop(ctx context.Context, pg *store.Postgres, quotaManager *quota.Manager, logger *utils.StructuredLogger) {
	log := logger.WithComponent("quota-reset")
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().UTC()
		boundary := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		due, err := pg.LastResetBefore(ctx, boundary)
		if err != nil {
			log.Warn("checking quota reset boundary", map[string]interface{}{"error": err.Error()})
			continue
		}
		if !due {
			continue
		}
		if err := quotaManager.ResetMonthlyQuotas(ctx); err != nil {
			log.Error("monthly quota reset failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		log.Info("monthly quota counters reset", map[string]interface{}{
			"month": now.Format("2006-01"),
		})
	}
}
