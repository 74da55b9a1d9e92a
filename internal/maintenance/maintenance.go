// Package maintenance runs the background housekeeping jobs: closing
// idle conversations and pruning expired rate-limit windows.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukahq/duka/internal/chat"
	"github.com/dukahq/duka/internal/config"
	"github.com/dukahq/duka/internal/ratelimit"
)

const jobTimeout = 30 * time.Second

// Runner schedules the housekeeping jobs on a cron schedule.
type Runner struct {
	store     chat.ConversationStore
	limiter   *ratelimit.Limiter
	cfg       *config.MaintenanceConfig
	logger    *slog.Logger
	cron      *cron.Cron
	idleAfter time.Duration
}

// New creates a maintenance runner. The limiter may be nil when rate
// limiting is disabled.
func New(store chat.ConversationStore, limiter *ratelimit.Limiter, cfg *config.MaintenanceConfig, logger *slog.Logger) *Runner {
	return &Runner{
		store:     store,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		idleAfter: cfg.IdleAfter(),
	}
}

// Start registers the jobs and starts the scheduler. It returns
// immediately; jobs run on their own goroutines.
func (r *Runner) Start() error {
	schedule := r.cfg.CronSchedule()
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	r.logger.Info("maintenance runner started",
		slog.String("schedule", schedule),
		slog.Duration("idle_after", r.idleAfter),
	)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (r *Runner) Stop(ctx context.Context) error {
	select {
	case <-r.cron.Stop().Done():
		r.logger.Info("maintenance runner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	cutoff := start.UTC().Add(-r.idleAfter)

	closed, err := r.store.DeactivateIdle(ctx, cutoff)
	if err != nil {
		r.logger.Error("idle conversation sweep failed", slog.String("error", err.Error()))
	}

	pruned := 0
	if r.limiter != nil {
		pruned = r.limiter.Prune()
	}

	r.logger.Info("maintenance sweep completed",
		slog.Int64("conversations_closed", closed),
		slog.Int("windows_pruned", pruned),
		slog.Duration("duration", time.Since(start)),
	)
}
