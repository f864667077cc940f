package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/backstop-dashboard/internal/config"
	"github.com/backstop-dashboard/internal/logging"
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

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	ratesRepo := storage.NewRatesRepository(clickhouse)
	coordinator := storage.NewRefreshCoordinator(redis, cfg.Refresh.LockTTL)

	ratesWorker := worker.NewRatesWorker(ratesRepo, coordinator, cfg.Refresh.Schedule, logger)
	if err := ratesWorker.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start rates worker")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ratesWorker.Stop()
	logger.Info("Rates worker stopped")
}
