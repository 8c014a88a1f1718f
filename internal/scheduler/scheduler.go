package scheduler

import (
	"context"
	"log/slog"
	"time"

	"insta_relay/internal/domain"
)

// Runner defines the interface for one relay pass.
type Runner interface {
	Run(ctx context.Context) (*domain.RunStats, error)
}

type Scheduler struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler. An interval of zero runs once, leaving
// repetition to an external scheduler such as cron.
func NewScheduler(runner Runner, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return s.runOnce(ctx)
	}

	s.logger.Info("scheduler started", "interval", s.interval)

	if err := s.runOnce(ctx); err != nil {
		s.logger.Error("relay run failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				s.logger.Error("relay run failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	_, err := s.runner.Run(ctx)
	return err
}
