// Package worker runs the scheduled daily-rates refresh.
package worker

import (
	"context"
	"time"

	"github.com/backstop-dashboard/internal/logging"
	"github.com/backstop-dashboard/internal/retry"
	"github.com/backstop-dashboard/internal/types"
	"github.com/robfig/cron/v3"
)

// RatesRefresher refreshes the derived daily-rates table
type RatesRefresher interface {
	RefreshDailyRates(ctx context.Context, date types.DateKey) error
	LatestRateDate(ctx context.Context) (types.DateKey, bool, error)
}

// Coordinator is the at-most-one-refresher lock. Not acquiring is
// acceptable staleness, never an error.
type Coordinator interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RatesWorker refreshes daily rates on a cron schedule. Multiple replicas
// may run it; the coordinator ensures only one does the work per tick.
type RatesWorker struct {
	rates    RatesRefresher
	coord    Coordinator
	schedule string
	logger   *logging.Logger
	cron     *cron.Cron
	retryCfg *retry.Config
}

// NewRatesWorker creates a rates refresh worker
func NewRatesWorker(rates RatesRefresher, coord Coordinator, schedule string, logger *logging.Logger) *RatesWorker {
	return &RatesWorker{
		rates:    rates,
		coord:    coord,
		schedule: schedule,
		logger:   logger,
		retryCfg: retry.DefaultConfig(),
	}
}

// Start schedules the refresh job. Returns after scheduling; the cron
// runner owns its own goroutine.
func (w *RatesWorker) Start() error {
	w.cron = cron.New()
	_, err := w.cron.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		ctx = logging.WithLogger(ctx, w.logger)

		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.WithError(err).Error("Scheduled rates refresh failed")
		}
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	w.logger.WithField("schedule", w.schedule).Info("Rates refresh worker started")
	return nil
}

// Stop stops the cron runner and waits for a running job to finish
func (w *RatesWorker) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

// RunOnce performs one coordinated refresh for today (UTC). Returns
// refreshed=false when another replica holds the lock.
func (w *RatesWorker) RunOnce(ctx context.Context) (refreshed bool, err error) {
	acquired, err := w.coord.TryAcquire(ctx)
	if err != nil {
		return false, err
	}
	if !acquired {
		w.logger.Debug("Rates refresh skipped: another replica holds the lock")
		return false, nil
	}
	defer func() {
		if releaseErr := w.coord.Release(ctx); releaseErr != nil {
			w.logger.WithError(releaseErr).Warn("Failed to release refresh lock")
		}
	}()

	today := types.NewDateKey(time.Now(), time.UTC)
	if latest, ok, err := w.rates.LatestRateDate(ctx); err != nil {
		w.logger.WithError(err).Warn("Could not read latest rate date; refreshing anyway")
	} else if ok && !latest.Before(today) {
		w.logger.WithField("date", string(today)).Debug("Rates already refreshed for today")
		return false, nil
	}

	err = retry.Do(ctx, w.retryCfg, func(ctx context.Context, attempt int) error {
		return w.rates.RefreshDailyRates(ctx, today)
	})
	if err != nil {
		return false, err
	}

	w.logger.WithField("date", string(today)).Info("Daily rates refreshed")
	return true, nil
}
