// Package janitor periodically drops expired withdraw sessions and stale
// spending records from the process-local stores.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionSweeper removes withdraw sessions that expired before now.
type SessionSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// SpendingSweeper removes daily spending records past their retention.
type SpendingSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Janitor runs the sweeps on a cron schedule.
type Janitor struct {
	sessions SessionSweeper
	spending SpendingSweeper
	cron     *cron.Cron
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a janitor. Either sweeper may be nil.
func New(sessions SessionSweeper, spending SpendingSweeper, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		sessions: sessions,
		spending: spending,
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger,
		now:      time.Now,
	}
}

// Start schedules the sweep with a standard cron spec or descriptor such
// as "@every 1m".
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule janitor %q: %w", schedule, err)
	}
	j.cron.Start()
	j.logger.Info("janitor started", slog.String("schedule", schedule))
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs a single sweep and reports how many entries were dropped.
func (j *Janitor) RunOnce(ctx context.Context) (sessions, spending int) {
	if j.sessions != nil {
		n, err := j.sessions.Sweep(ctx, j.now())
		if err != nil {
			j.logger.Warn("session sweep failed", slog.Any("error", err))
		}
		sessions = n
	}
	if j.spending != nil {
		n, err := j.spending.Sweep(ctx)
		if err != nil {
			j.logger.Warn("spending sweep failed", slog.Any("error", err))
		}
		spending = n
	}
	if sessions > 0 || spending > 0 {
		j.logger.Debug("janitor sweep",
			slog.Int("sessions", sessions),
			slog.Int("spending_records", spending),
		)
	}
	return sessions, spending
}
