package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rajasatyajit/FuelWatch/config"
	apperrors "github.com/rajasatyajit/FuelWatch/internal/errors"
	"github.com/rajasatyajit/FuelWatch/internal/logger"
	"github.com/rajasatyajit/FuelWatch/internal/models"
	"github.com/robfig/cron/v3"
)

// Runner performs one snapshot ingestion run
type Runner interface {
	ImportSnapshot(ctx context.Context) (models.RunReport, error)
}

// Scheduler triggers snapshot runs at startup, on a cron schedule and on
// demand. At most one triggered run is in flight per scheduler.
type Scheduler struct {
	runner   Runner
	cfg      config.IngestConfig
	schedule cron.Schedule

	busy atomic.Bool
	wg   sync.WaitGroup

	mu   sync.Mutex
	base context.Context
}

// New creates a scheduler. An empty schedule disables periodic runs.
func New(r Runner, cfg config.IngestConfig) (*Scheduler, error) {
	s := &Scheduler{runner: r, cfg: cfg, base: context.Background()}
	if cfg.Schedule != "" {
		sched, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("parse ingest schedule %q: %w", cfg.Schedule, err)
		}
		s.schedule = sched
	}
	return s, nil
}

// Run starts the startup run and the cron schedule, and blocks until ctx is
// done. In-flight runs are cancelled and awaited before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	if s.cfg.OnStartup {
		if err := s.Trigger(); err != nil {
			logger.Warn("Startup ingestion not started", "error", err)
		}
	}

	var c *cron.Cron
	if s.schedule != nil {
		cl := cronLogger{logger.L()}
		c = cron.New(cron.WithChain(cron.Recover(cl)), cron.WithLogger(cl))
		c.Schedule(s.schedule, cron.FuncJob(func() {
			if err := s.Trigger(); err != nil {
				logger.Info("Scheduled ingestion skipped", "error", err)
			}
		}))
		c.Start()
		logger.Info("Ingestion scheduler started", "schedule", s.cfg.Schedule)
	}

	<-ctx.Done()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
	logger.Info("Ingestion scheduler stopped")
	return nil
}

// Trigger starts a snapshot run in the background. It returns
// ErrRunInProgress when a run started by this scheduler is still going.
func (s *Scheduler) Trigger() error {
	if !s.busy.CompareAndSwap(false, true) {
		return apperrors.ErrRunInProgress
	}

	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		_, _ = s.run(ctx)
	}()
	return nil
}

// RunNow runs a snapshot synchronously with the configured timeout and retries
func (s *Scheduler) RunNow(ctx context.Context) (models.RunReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return models.RunReport{}, apperrors.ErrRunInProgress
	}
	defer s.busy.Store(false)
	return s.run(ctx)
}

// Busy reports whether a run started by this scheduler is in flight
func (s *Scheduler) Busy() bool { return s.busy.Load() }

// Wait blocks until background runs have finished
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) run(ctx context.Context) (models.RunReport, error) {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		report, err := s.runner.ImportSnapshot(ctx)
		if err == nil {
			return report, nil
		}
		if !retryable(err) || attempt >= s.cfg.RetryAttempts {
			logger.Error("Snapshot ingestion failed", "attempt", attempt+1, "error", err)
			return report, err
		}

		logger.Warn("Snapshot ingestion failed, retrying",
			"attempt", attempt+1,
			"retry_in", s.cfg.RetryDelay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(s.cfg.RetryDelay):
		}
	}
}

// retryable reports whether a failed run may succeed when simply repeated
func retryable(err error) bool {
	var dl *apperrors.DownloadError
	var ex *apperrors.ExtractError
	return errors.As(err, &dl) || errors.As(err, &ex)
}

// cronLogger adapts slog to cron's logger
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
