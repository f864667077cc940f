package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/backstop-dashboard/internal/api"
	"github.com/backstop-dashboard/internal/config"
	"github.com/backstop-dashboard/internal/logging"
	"github.com/backstop-dashboard/internal/service"
	"github.com/backstop-dashboard/internal/storage"
	"github.com/backstop-dashboard/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	// Storage connections
	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	// Repositories
	eventRepo := storage.NewEventRepository(clickhouse)
	snapshotRepo := storage.NewSnapshotRepository(clickhouse)
	priceRepo := storage.NewPriceRepository(clickhouse)
	ratesRepo := storage.NewRatesRepository(clickhouse)
	walletRepo := storage.NewWalletRepository(postgres)
	reportCache := storage.NewReportCache(redis, cfg.Cache.TTL)
	coordinator := storage.NewRefreshCoordinator(redis, cfg.Refresh.LockTTL)

	// Services
	resolver := service.NewPriceResolver(priceRepo)
	pnlService := service.NewPnlService(eventRepo, snapshotRepo, resolver, cfg.Pnl)
	walletService := service.NewWalletService(walletRepo)
	ratesWorker := worker.NewRatesWorker(ratesRepo, coordinator, cfg.Refresh.Schedule, logger)

	server := api.NewServer(
		&api.ServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			FreeTierRPS:     cfg.RateLimit.FreeTier,
			PremiumTierRPS:  cfg.RateLimit.PremiumTier,
		},
		pnlService,
		walletService,
		ratesWorker,
		reportCache,
		map[string]api.Pinger{
			"clickhouse": clickhouse,
			"postgres":   postgres,
			"redis":      redis,
		},
		logger,
	)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("API server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}
